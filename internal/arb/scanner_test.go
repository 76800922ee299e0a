package arb

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func testScanner() (*Scanner, time.Time) {
	s := New(Options{
		MinSpreadPct: 0.3,
		ViabilityPct: 0.1,
		PriceTTL:     5 * time.Second,
		HistorySize:  3,
		VenueFees:    map[string]float64{"binance": 0.1, "kraken": 0.2},
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	return s, now
}

func TestScanDetectsFeeAdjustedSpread(t *testing.T) {
	s, _ := testScanner()
	s.UpdatePrice("BTCUSDT", "binance", 100_000)
	s.UpdatePrice("BTCUSDT", "kraken", 101_000)

	opps := s.Scan([]string{"BTCUSDT"})
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	opp := opps[0]
	if opp.BuyVenue != "binance" || opp.SellVenue != "kraken" {
		t.Fatalf("wrong direction: %+v", opp)
	}
	if opp.NetPct <= 0 || opp.NetPct >= opp.GrossPct {
		t.Fatalf("net must be positive and below gross: gross=%.3f net=%.3f", opp.GrossPct, opp.NetPct)
	}
	if !opp.Viable {
		t.Fatalf("recorded opportunity must be viable")
	}
}

func TestScanRejectsThinSpreads(t *testing.T) {
	s, _ := testScanner()
	s.UpdatePrice("BTCUSDT", "binance", 100_000)
	s.UpdatePrice("BTCUSDT", "kraken", 100_100) // ~0.1% gross, under min spread

	if opps := s.Scan([]string{"BTCUSDT"}); len(opps) != 0 {
		t.Fatalf("thin spread should be rejected, got %d", len(opps))
	}
}

func TestScanRejectsFeeEatenSpreads(t *testing.T) {
	s, _ := testScanner()
	// 0.35% gross clears min spread but fees (0.3%) leave net under the 0.1% floor.
	s.UpdatePrice("BTCUSDT", "binance", 100_000)
	s.UpdatePrice("BTCUSDT", "kraken", 100_350)

	if opps := s.Scan([]string{"BTCUSDT"}); len(opps) != 0 {
		t.Fatalf("fee-eaten spread should be rejected, got %d", len(opps))
	}
}

func TestStalePricesNeverUsed(t *testing.T) {
	s, now := testScanner()
	s.UpdatePrice("BTCUSDT", "kraken", 101_000)

	// Re-pin the clock so the binance quote is fresh but kraken has aged out.
	later := now.Add(10 * time.Second)
	s.SetClock(func() time.Time { return later })
	s.UpdatePrice("BTCUSDT", "binance", 100_000)

	if opps := s.Scan([]string{"BTCUSDT"}); len(opps) != 0 {
		t.Fatalf("stale quote participated in a scan")
	}
}

func TestNetProfitSymmetry(t *testing.T) {
	s, _ := testScanner()
	a, b := 100_000.0, 101_000.0

	forward := s.NetProfitPct("binance", a, "kraken", b)
	reverse := s.NetProfitPct("kraken", b, "binance", a)

	grossForward := forward + s.fee("binance") + s.fee("kraken")
	grossReverse := reverse + s.fee("kraken") + s.fee("binance")
	if math.Abs(grossForward+grossReverse) > 1e-9 {
		t.Fatalf("gross spread not symmetric: %.6f vs %.6f", grossForward, grossReverse)
	}
	if math.Abs(math.Abs(grossForward)-math.Abs(grossReverse)) > 1e-9 {
		t.Fatalf("gross magnitudes differ: %.12f vs %.12f", grossForward, grossReverse)
	}
}

func TestBestReturnsTopNetProfit(t *testing.T) {
	s, _ := testScanner()
	s.UpdatePrice("BTCUSDT", "binance", 100_000)
	s.UpdatePrice("BTCUSDT", "kraken", 101_000)
	s.UpdatePrice("ETHUSDT", "binance", 2_000)
	s.UpdatePrice("ETHUSDT", "kraken", 2_060) // 3% spread, the better trade

	best, ok := s.Best([]string{"BTCUSDT", "ETHUSDT"})
	if !ok {
		t.Fatalf("expected an opportunity")
	}
	if best.Symbol != "ETHUSDT" {
		t.Fatalf("expected ETHUSDT best, got %s", best.Symbol)
	}
}

func TestHistoryRingEvictsOldest(t *testing.T) {
	s, _ := testScanner()
	for i := 0; i < 5; i++ {
		s.RecordExecution(Opportunity{Symbol: fmt.Sprintf("SYM%d", i)})
	}
	hist := s.History()
	if len(hist) != 3 {
		t.Fatalf("expected capped history of 3, got %d", len(hist))
	}
	if hist[0].Symbol != "SYM2" || hist[2].Symbol != "SYM4" {
		t.Fatalf("eviction order wrong: %+v", hist)
	}
}

func TestUpdatePriceOverwrites(t *testing.T) {
	s, _ := testScanner()
	s.UpdatePrice("BTCUSDT", "binance", 100_000)
	s.UpdatePrice("BTCUSDT", "binance", 99_000)
	s.UpdatePrice("BTCUSDT", "kraken", 101_000)

	opps := s.Scan([]string{"BTCUSDT"})
	if len(opps) != 1 || opps[0].BuyPrice != 99_000 {
		t.Fatalf("latest price not used: %+v", opps)
	}
}
