// Package signal standardizes payloads shared between producers, the bus, and the engine.
package signal

import "time"

// Direction is a producer's (or the consensus) view of where price is headed.
type Direction string

const (
	// Buy is a long bias.
	Buy Direction = "BUY"
	// Sell is a short bias.
	Sell Direction = "SELL"
	// Neutral means no actionable bias.
	Neutral Direction = "NEUTRAL"
)

// Sign maps a direction onto {-1, 0, +1} for consensus arithmetic.
func (d Direction) Sign() float64 {
	switch d {
	case Buy:
		return 1
	case Sell:
		return -1
	default:
		return 0
	}
}

// Message is one producer's opinion at one instant. Producers overwrite their
// previous message on every emit; messages are never deleted, only replaced.
type Message struct {
	Producer   string
	Symbol     string
	Ts         time.Time
	Ready      bool
	Coherence  float64 // self-assessed reliability in [0,1]
	Confidence float64 // strength of signal in [0,1], used as consensus weight
	Direction  Direction
	Fields     map[string]float64 // recognized numeric diagnostics (momentum, imbalance, ...)
}

// Clamp01 bounds v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MarketSnapshot is the per-symbol market view handed to every producer each cycle.
type MarketSnapshot struct {
	Symbol     string
	Price      float64
	Volume     float64
	Volatility float64 // normalized to [0,1]
	Momentum   float64 // signed, normalized to [-1,1]
	Spread     float64
	Ts         time.Time
}

// Stale reports whether the snapshot is older than ttl relative to now.
func (m MarketSnapshot) Stale(now time.Time, ttl time.Duration) bool {
	return m.Ts.IsZero() || now.Sub(m.Ts) > ttl
}

// Tick models raw trade prints consumed by feed adapters to build snapshots.
type Tick struct {
	Symbol string
	Venue  string
	Price  float64
	Size   float64
	Side   int // +1 buy aggressor, -1 sell aggressor
	Ts     time.Time
}
