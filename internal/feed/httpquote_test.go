package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHTTPQuoterPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sym := r.URL.Query().Get("symbol")
		switch sym {
		case "BTCUSDT":
			fmt.Fprint(w, `{"price":"65000.5"}`)
		case "ETHUSDT":
			fmt.Fprint(w, `{"lastPrice":"3200.25"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sink := &captureSink{}
	q := NewHTTPQuoter("kraken", srv.URL+"/ticker?symbol=", []string{"BTCUSDT", "ETHUSDT", "MISSING"}, time.Second, sink, zerolog.Nop())

	if err := q.Poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if got := sink.price("BTCUSDT", "kraken"); got != 65000.5 {
		t.Fatalf("expected 65000.5, got %v", got)
	}
	if got := sink.price("ETHUSDT", "kraken"); got != 3200.25 {
		t.Fatalf("expected 3200.25, got %v", got)
	}
	// The 404 symbol is skipped, not fatal.
	if len(sink.updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(sink.updates))
	}
}

func TestHTTPQuoterBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"price":"-1"}`)
	}))
	defer srv.Close()

	q := NewHTTPQuoter("kraken", srv.URL+"/ticker?symbol=", nil, time.Second, &captureSink{}, zerolog.Nop())
	if _, err := q.fetch(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("expected error for non-positive price")
	}
}
