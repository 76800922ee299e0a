// Package bus stores the latest message per signal producer and fuses them into
// a weighted consensus on demand. State is in-memory only; the bus performs no I/O.
package bus

import (
	"sync"
	"time"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/signal"
)

// Options tunes consensus fusion and readiness.
type Options struct {
	BuyThreshold    float64
	SellThreshold   float64 // positive magnitude, applied on the negative side
	ReadinessRatio  float64
	Freshness       time.Duration
	LivenessTimeout time.Duration
	Weights         map[string]float64 // per-producer consensus weight, default 1.0
}

// Consensus is the fused directional view across fresh, live producers.
type Consensus struct {
	Direction  signal.Direction
	Score      float64 // normalized to [-1,1]
	Confidence float64 // weighted mean confidence of contributing producers
	Ready      bool
	Fresh      int
	Registered int
}

// Snapshot is the aggregated bus view, recomputed on every call.
type Snapshot struct {
	Messages  map[string]signal.Message
	Consensus Consensus
	Taken     time.Time
}

// Bus is the in-memory pub/sub store for producer opinions.
type Bus struct {
	mu       sync.RWMutex
	opts     Options
	msgs     map[string]signal.Message
	order    []string // registration order, for deterministic iteration
	liveness *Liveness
	now      func() time.Time
}

// New constructs a bus with its liveness registry.
func New(opts Options) *Bus {
	if opts.BuyThreshold <= 0 {
		opts.BuyThreshold = 0.3
	}
	if opts.SellThreshold <= 0 {
		opts.SellThreshold = 0.3
	}
	if opts.ReadinessRatio <= 0 {
		opts.ReadinessRatio = 0.5
	}
	if opts.Freshness <= 0 {
		opts.Freshness = 30 * time.Second
	}
	return &Bus{
		opts:     opts,
		msgs:     make(map[string]signal.Message),
		liveness: NewLiveness(opts.LivenessTimeout),
		now:      time.Now,
	}
}

// Register declares a producer so it counts in the readiness denominator even
// before its first message arrives.
func (b *Bus) Register(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.order {
		if existing == name {
			return
		}
	}
	b.order = append(b.order, name)
}

// Publish stores or overwrites the latest message for the producer.
func (b *Bus) Publish(msg signal.Message) {
	if msg.Producer == "" {
		return
	}
	b.mu.Lock()
	if _, known := b.msgs[msg.Producer]; !known {
		found := false
		for _, existing := range b.order {
			if existing == msg.Producer {
				found = true
				break
			}
		}
		if !found {
			b.order = append(b.order, msg.Producer)
		}
	}
	b.msgs[msg.Producer] = msg
	b.mu.Unlock()
}

// Heartbeat forwards a producer check-in to the liveness registry.
func (b *Bus) Heartbeat(name string) { b.liveness.Heartbeat(name) }

// Liveness exposes the registry for health inspection.
func (b *Bus) Liveness() *Liveness { return b.liveness }

// Snapshot returns a copy of all current messages plus the consensus view.
func (b *Bus) Snapshot() Snapshot {
	b.mu.RLock()
	msgs := make(map[string]signal.Message, len(b.msgs))
	for name, msg := range b.msgs {
		msgs[name] = msg
	}
	b.mu.RUnlock()

	return Snapshot{
		Messages:  msgs,
		Consensus: b.Consensus(),
		Taken:     b.now(),
	}
}

// Consensus computes the weighted directional score over fresh, live producers.
// Producers whose last message is older than the freshness window, or which have
// stopped heartbeating, contribute to neither the score nor the readiness ratio.
func (b *Bus) Consensus() Consensus {
	now := b.now()

	b.mu.RLock()
	defer b.mu.RUnlock()

	var (
		weighted    float64
		totalWeight float64
		confSum     float64
		fresh       int
		registered  int
	)
	for _, name := range b.order {
		// Timed-out producers leave both the weighting and the readiness
		// denominator, so one stalled producer cannot starve consensus.
		if b.liveness.TimedOut(name) {
			continue
		}
		registered++
		if !b.liveness.Alive(name) {
			continue
		}
		msg, ok := b.msgs[name]
		if !ok || now.Sub(msg.Ts) > b.opts.Freshness || !msg.Ready {
			continue
		}
		weight := 1.0
		if w, set := b.opts.Weights[name]; set && w > 0 {
			weight = w
		}
		fresh++
		totalWeight += weight
		weighted += msg.Direction.Sign() * msg.Confidence * weight
		confSum += msg.Confidence * weight
	}

	c := Consensus{Fresh: fresh, Registered: registered, Direction: signal.Neutral}
	if totalWeight > 0 {
		c.Score = weighted / totalWeight
		c.Confidence = confSum / totalWeight
	}
	switch {
	case c.Score >= b.opts.BuyThreshold:
		c.Direction = signal.Buy
	case c.Score <= -b.opts.SellThreshold:
		c.Direction = signal.Sell
	}
	if c.Registered > 0 {
		c.Ready = float64(c.Fresh)/float64(c.Registered) >= b.opts.ReadinessRatio
	}
	return c
}

// SetClock overrides the time source for the bus and its liveness registry.
func (b *Bus) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	b.liveness.SetClock(now)
}
