// Package capital owns account equity partitioning: reservations per symbol, a
// minimum cash reserve, Kelly-style position sizing, and the harvest/compound
// split applied to realized profit.
package capital

import (
	"fmt"
	"math"
	"sync"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/learn"
)

// Options carries the sizing knobs; thresholds are configuration, not invariants.
type Options struct {
	MinReserveRatio  float64
	MaxPositionPct   float64
	TargetConfidence float64
	VolatilityFloor  float64
	MinTradeUSD      float64
	MaxTradeUSD      float64
	MaxPositions     int
	HarvestRatio     float64
	TierMultipliers  []float64 // index 0 = tier 1; higher tiers shrink size
}

// State is a point-in-time copy of the allocator's money tracking.
type State struct {
	Total         float64
	Available     float64
	Reserved      float64
	Harvested     float64
	Unrealized    float64
	OpenPositions int
	KellyFraction float64
}

// SizeResult is a position-size suggestion, zero with a reason when blocked.
type SizeResult struct {
	Amount float64
	Reason string
}

// Allocator is the single authority over available/reserved capital. Reserve and
// Release are atomic with respect to each other; harvested profit never re-enters
// the available pool.
type Allocator struct {
	mu           sync.Mutex
	opts         Options
	provider     learn.Provider
	total        float64
	available    float64
	harvested    float64
	unrealized   float64
	kelly        float64
	reservations map[string]float64
}

// New builds an allocator seeded with initial equity.
func New(initialEquity float64, opts Options, provider learn.Provider) *Allocator {
	if opts.TargetConfidence <= 0 {
		opts.TargetConfidence = 0.8
	}
	if opts.VolatilityFloor <= 0 {
		opts.VolatilityFloor = 0.25
	}
	if len(opts.TierMultipliers) == 0 {
		opts.TierMultipliers = []float64{1.0, 0.6, 0.35}
	}
	a := &Allocator{
		opts:         opts,
		provider:     provider,
		reservations: make(map[string]float64),
	}
	a.UpdateEquity(initialEquity, 0)
	return a
}

// UpdateEquity recomputes reserved and available from the new total and pulls
// the current Kelly fraction from the learning provider.
func (a *Allocator) UpdateEquity(total, unrealizedPnL float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total = total
	a.unrealized = unrealizedPnL
	if a.provider != nil {
		a.kelly = a.provider.KellyFraction()
	}
	a.recomputeAvailable()
}

// recomputeAvailable derives available from total minus live reservations minus
// the minimum reserve. Callers must hold the mutex.
func (a *Allocator) recomputeAvailable() {
	reserved := a.reservedLocked()
	a.available = math.Max(0, a.total-reserved-a.opts.MinReserveRatio*a.total)
}

func (a *Allocator) reservedLocked() float64 {
	var sum float64
	for _, amt := range a.reservations {
		sum += amt
	}
	return sum
}

// PositionSize suggests a dollar size for a new position. The base fraction is
// kelly × maxPositionPct, scaled by the tier multiplier, by confidence relative
// to the target, and down by volatility; the result is clamped to the trade
// bounds and to half of available capital.
func (a *Allocator) PositionSize(confidence, volatility float64, tier int) SizeResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opts.MaxPositions > 0 && len(a.reservations) >= a.opts.MaxPositions {
		return SizeResult{Reason: fmt.Sprintf("position count at max (%d)", a.opts.MaxPositions)}
	}
	if a.available < a.opts.MinTradeUSD {
		return SizeResult{Reason: fmt.Sprintf("available %.2f below min trade %.2f", a.available, a.opts.MinTradeUSD)}
	}

	base := a.kelly * a.opts.MaxPositionPct
	size := base * a.total

	size *= a.tierMultiplier(tier)
	size *= math.Min(1, confidence/a.opts.TargetConfidence)
	size *= math.Max(a.opts.VolatilityFloor, 1-volatility)

	if size < a.opts.MinTradeUSD {
		size = a.opts.MinTradeUSD
	}
	if a.opts.MaxTradeUSD > 0 && size > a.opts.MaxTradeUSD {
		size = a.opts.MaxTradeUSD
	}
	if half := a.available * 0.5; size > half {
		size = half
	}
	if size < a.opts.MinTradeUSD {
		return SizeResult{Reason: fmt.Sprintf("clipped size %.2f below min trade %.2f", size, a.opts.MinTradeUSD)}
	}
	return SizeResult{Amount: size}
}

func (a *Allocator) tierMultiplier(tier int) float64 {
	if tier < 1 {
		tier = 1
	}
	if tier > len(a.opts.TierMultipliers) {
		tier = len(a.opts.TierMultipliers)
	}
	return a.opts.TierMultipliers[tier-1]
}

// Reserve earmarks capital for a symbol. It fails without mutation when the
// amount exceeds available. Repeated reserves for the same symbol are additive.
func (a *Allocator) Reserve(symbol string, amount float64) bool {
	if amount <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if amount > a.available {
		return false
	}
	a.reservations[symbol] += amount
	a.available -= amount
	return true
}

// Release frees a symbol's reservation and applies the harvest/compound split to
// positive profit: the harvest share is permanently set aside and never returns
// to available; the rest plus the principal does. Negative profit shrinks the
// returned principal. Releasing a symbol with no reservation is a no-op.
func (a *Allocator) Release(symbol string, profit float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	principal, ok := a.reservations[symbol]
	if !ok {
		return
	}
	delete(a.reservations, symbol)

	if profit > 0 {
		harvest := profit * a.opts.HarvestRatio
		a.harvested += harvest
		compound := profit - harvest
		a.available += principal + compound
		a.total += compound
	} else {
		a.available = math.Max(0, a.available+principal+profit)
		a.total += profit
	}
}

// Reserved returns the live reservation for a symbol, zero when absent.
func (a *Allocator) Reserved(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reservations[symbol]
}

// State returns a copy of the current money tracking.
func (a *Allocator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		Total:         a.total,
		Available:     a.available,
		Reserved:      a.reservedLocked(),
		Harvested:     a.harvested,
		Unrealized:    a.unrealized,
		OpenPositions: len(a.reservations),
		KellyFraction: a.kelly,
	}
}
