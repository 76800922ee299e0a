package feed

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/signal"
)

// Stub emits deterministic synthetic ticks, useful for simulation mode, tests,
// and offline work. Each symbol drifts along a slow sine wave; when a quote
// sink is attached the stub also publishes two synthetic venues with a small
// static skew so the arbitrage path can be exercised end to end.
type Stub struct {
	symbols  []string
	interval time.Duration
	sink     QuoteSink
	mu       sync.Mutex
	step     int
}

// StubVenues are the synthetic venue names the stub quotes on.
var StubVenues = [2]string{"alpha", "beta"}

// NewStub builds a stub source for the given symbols.
func NewStub(symbols []string, interval time.Duration, sink QuoteSink) *Stub {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Stub{symbols: symbols, interval: interval, sink: sink}
}

// Name identifies the source in logs.
func (s *Stub) Name() string { return "stub" }

// Run pushes ticks onto the channel until the context is canceled.
func (s *Stub) Run(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			for _, tick := range s.Generate(ts) {
				select {
				case out <- tick:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Generate produces one tick per symbol for the given timestamp and feeds the
// quote sink. Exposed so tests can step the stub without a goroutine.
func (s *Stub) Generate(ts time.Time) []signal.Tick {
	s.mu.Lock()
	s.step++
	step := s.step
	s.mu.Unlock()

	ticks := make([]signal.Tick, 0, len(s.symbols))
	for i, sym := range s.symbols {
		base := 100.0 * float64(i+1)
		price := base * (1 + 0.03*math.Sin(float64(step)/20) + 0.001*float64(step%5))
		side := 1
		if step%3 == 0 {
			side = -1
		}
		ticks = append(ticks, signal.Tick{
			Symbol: sym,
			Venue:  StubVenues[0],
			Price:  price,
			Size:   1,
			Side:   side,
			Ts:     ts,
		})
		if s.sink != nil {
			s.sink.UpdatePrice(sym, StubVenues[0], price)
			s.sink.UpdatePrice(sym, StubVenues[1], price*1.004)
		}
	}
	return ticks
}
