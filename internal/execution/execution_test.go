package execution

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSimExecutorFills(t *testing.T) {
	var buf bytes.Buffer
	exec := NewSimExecutor(zerolog.New(&buf), 0)

	res, err := exec.Execute(context.Background(), Order{
		Symbol: "BTCUSDT", Venue: "binance", Side: Buy, Qty: 0.01, Price: 100_000,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.OrderID == "" {
		t.Fatalf("expected confirmed fill, got %+v", res)
	}
	if res.ExecutedPrice != 100_000 {
		t.Fatalf("fill price drifted without slippage: %.2f", res.ExecutedPrice)
	}
	if !strings.Contains(buf.String(), "simulated fill") {
		t.Fatalf("fill not logged: %s", buf.String())
	}
}

func TestSimExecutorSlippage(t *testing.T) {
	exec := NewSimExecutor(zerolog.Nop(), 0.1)

	buy, _ := exec.Execute(context.Background(), Order{Symbol: "BTCUSDT", Side: Buy, Qty: 1, Price: 100})
	if buy.ExecutedPrice <= 100 {
		t.Fatalf("buy slippage should be adverse: %.4f", buy.ExecutedPrice)
	}
	sell, _ := exec.Execute(context.Background(), Order{Symbol: "BTCUSDT", Side: Sell, Qty: 1, Price: 100})
	if sell.ExecutedPrice >= 100 {
		t.Fatalf("sell slippage should be adverse: %.4f", sell.ExecutedPrice)
	}
}

func TestSimExecutorRejectsInvalidOrder(t *testing.T) {
	exec := NewSimExecutor(zerolog.Nop(), 0)
	res, err := exec.Execute(context.Background(), Order{Symbol: "BTCUSDT", Side: Buy, Qty: 0, Price: 100})
	if err != nil {
		t.Fatalf("invalid orders report through Result, not error: %v", err)
	}
	if res.Success || res.Err == "" {
		t.Fatalf("expected rejection, got %+v", res)
	}
}

func TestNormalizeRoundsToVenueGrid(t *testing.T) {
	rules := Rules{MinQty: 0.001, MaxQty: 10, StepSize: 0.001, TickSize: 0.5, MinNotional: 10}

	out, err := Normalize(Order{Symbol: "BTCUSDT", Side: Buy, Qty: 0.0127, Price: 100_000.3}, rules)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if math.Abs(out.Qty-0.012) > 1e-12 {
		t.Fatalf("qty not floored to step: %.6f", out.Qty)
	}
	if math.Abs(out.Price-100_000.5) > 1e-9 {
		t.Fatalf("price not rounded to tick: %.2f", out.Price)
	}
}

func TestNormalizeRejections(t *testing.T) {
	rules := Rules{MinQty: 0.01, StepSize: 0.01, MinNotional: 50}

	if _, err := Normalize(Order{Symbol: "X", Qty: 0.004, Price: 100}, rules); err == nil {
		t.Fatalf("expected zero-quantity rejection")
	}
	if _, err := Normalize(Order{Symbol: "X", Qty: 0.01, Price: 100}, rules); err == nil {
		t.Fatalf("expected min-notional rejection (1.00 < 50)")
	}
}

func TestNormalizeCapsMaxQty(t *testing.T) {
	rules := Rules{MaxQty: 5, StepSize: 0.1}
	out, err := Normalize(Order{Symbol: "X", Qty: 7.25, Price: 10}, rules)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Qty > 5 {
		t.Fatalf("max quantity not enforced: %.2f", out.Qty)
	}
}

func TestStaticRulesLookup(t *testing.T) {
	svc := StaticRules{
		Table:   map[string]Rules{"BTCUSDT@binance": {MinQty: 0.001}},
		Default: Rules{MinQty: 1},
	}
	r, err := svc.Rules("BTCUSDT", "binance")
	if err != nil || r.MinQty != 0.001 {
		t.Fatalf("table lookup failed: %+v %v", r, err)
	}
	r, _ = svc.Rules("UNKNOWN", "binance")
	if r.MinQty != 1 {
		t.Fatalf("default fallback failed: %+v", r)
	}
}
