package feed

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/signal"
)

// Builder aggregates ticks into rolling per-symbol statistics and serves the
// market snapshots the engine pulls each cycle.
type Builder struct {
	mu     sync.Mutex
	window time.Duration
	series map[string][]signal.Tick
	now    func() time.Time
}

// NewBuilder creates a builder with the given rolling window.
func NewBuilder(window time.Duration) *Builder {
	if window <= 0 {
		window = 2 * time.Minute
	}
	return &Builder{
		window: window,
		series: make(map[string][]signal.Tick),
		now:    time.Now,
	}
}

// SetClock overrides the time source for deterministic tests.
func (b *Builder) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Ingest folds one tick into the rolling window.
func (b *Builder) Ingest(tick signal.Tick) {
	if tick.Symbol == "" || tick.Price <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ticks := append(b.series[tick.Symbol], tick)
	cutoff := tick.Ts.Add(-b.window)
	idx := 0
	for i, existing := range ticks {
		if existing.Ts.After(cutoff) {
			idx = i
			break
		}
		idx = i + 1
	}
	if idx > 0 && idx <= len(ticks) {
		ticks = ticks[idx:]
	}
	b.series[tick.Symbol] = ticks
}

// Snapshot derives the current market view for symbol. It fails when no tick
// has arrived yet or the latest tick is older than maxAge.
func (b *Builder) Snapshot(symbol string, maxAge time.Duration) (signal.MarketSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ticks := b.series[symbol]
	if len(ticks) == 0 {
		return signal.MarketSnapshot{}, fmt.Errorf("no market data for %s", symbol)
	}
	latest := ticks[len(ticks)-1]
	if maxAge > 0 && b.now().Sub(latest.Ts) > maxAge {
		return signal.MarketSnapshot{}, fmt.Errorf("market data for %s is stale (%s old)", symbol, b.now().Sub(latest.Ts))
	}

	snap := signal.MarketSnapshot{
		Symbol: symbol,
		Price:  latest.Price,
		Ts:     latest.Ts,
	}
	var volume float64
	returns := make([]float64, 0, len(ticks)-1)
	var absMove float64
	for i, tick := range ticks {
		volume += math.Abs(tick.Size * tick.Price)
		if i == 0 {
			continue
		}
		prev := ticks[i-1].Price
		if prev > 0 {
			r := (tick.Price - prev) / prev
			returns = append(returns, r)
			absMove += math.Abs(r)
		}
	}
	snap.Volume = volume

	if len(returns) > 1 {
		// Dispersion of tick returns, stretched onto [0,1].
		sd := stat.StdDev(returns, nil)
		snap.Volatility = signal.Clamp01(sd * 100)
		// Mean absolute tick-to-tick move stands in for the quoted spread.
		snap.Spread = absMove / float64(len(returns)) * latest.Price
	}
	anchor := ticks[0].Price
	if anchor > 0 {
		snap.Momentum = math.Tanh((latest.Price - anchor) / anchor * 10)
	}
	return snap, nil
}

// Symbols lists symbols with at least one tick, for diagnostics.
func (b *Builder) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.series))
	for sym := range b.series {
		out = append(out, sym)
	}
	return out
}
