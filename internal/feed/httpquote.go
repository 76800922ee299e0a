package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/metrics"
)

// quotePayload covers the common shapes venue ticker endpoints return.
// Whichever field carries a positive price wins.
type quotePayload struct {
	Price     json.Number `json:"price"`
	Last      json.Number `json:"last"`
	LastPrice json.Number `json:"lastPrice"`
}

func (p *quotePayload) price() (float64, bool) {
	for _, n := range []json.Number{p.Price, p.Last, p.LastPrice} {
		if n == "" {
			continue
		}
		if px, err := strconv.ParseFloat(n.String(), 64); err == nil && px > 0 {
			return px, true
		}
	}
	return 0, false
}

// HTTPQuoter polls REST ticker endpoints on a fixed interval and pushes each
// quote into the sink under its venue name. It feeds the arbitrage scanner
// only; it does not produce ticks for the snapshot builder.
type HTTPQuoter struct {
	venue    string
	baseURL  string
	symbols  []string
	interval time.Duration
	sink     QuoteSink
	client   *http.Client
	log      zerolog.Logger
}

// NewHTTPQuoter builds a poller for one venue. baseURL is formatted with the
// symbol appended, e.g. "https://api.example.com/ticker?symbol=".
func NewHTTPQuoter(venue, baseURL string, symbols []string, interval time.Duration, sink QuoteSink, log zerolog.Logger) *HTTPQuoter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HTTPQuoter{
		venue:    venue,
		baseURL:  baseURL,
		symbols:  symbols,
		interval: interval,
		sink:     sink,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Name identifies the poller in logs.
func (q *HTTPQuoter) Name() string { return "http:" + q.venue }

// Run polls on the quoter's own ticker until the context is canceled. Callers
// that already own a scheduler should register Poll instead.
func (q *HTTPQuoter) Run(ctx context.Context) error {
	if err := q.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		q.log.Warn().Err(err).Str("venue", q.venue).Msg("initial quote poll failed")
	}

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := q.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.log.Warn().Err(err).Str("venue", q.venue).Msg("quote poll failed")
			}
		}
	}
}

// Poll fetches every symbol once. Fetch failures are logged per symbol; only a
// canceled context aborts the pass.
func (q *HTTPQuoter) Poll(ctx context.Context) error {
	for _, sym := range q.symbols {
		px, err := q.fetch(ctx, sym)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Warn().Err(err).Str("venue", q.venue).Str("symbol", sym).Msg("quote fetch failed")
			continue
		}
		q.sink.UpdatePrice(sym, q.venue, px)
		metrics.TicksTotal.WithLabelValues(sym).Inc()
	}
	return nil
}

func (q *HTTPQuoter) fetch(ctx context.Context, symbol string) (float64, error) {
	url := strings.TrimSuffix(q.baseURL, "/") + symbol
	if strings.Contains(q.baseURL, "=") {
		url = q.baseURL + symbol
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "aureon-trading/1.0")
	resp, err := q.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload quotePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	px, ok := payload.price()
	if !ok {
		return 0, fmt.Errorf("no usable price in response")
	}
	return px, nil
}
