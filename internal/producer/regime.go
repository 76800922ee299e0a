package producer

import (
	"fmt"
	"math"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/signal"
)

// Regime reads the snapshot's own momentum and volatility features: it leans
// with momentum in quiet markets and stands down when volatility swamps the
// move. Stateless, so it is ready from the first snapshot.
type Regime struct {
	name      string
	threshold float64
}

// NewRegime builds a regime producer with the given momentum threshold.
func NewRegime(threshold float64) *Regime {
	if threshold <= 0 {
		threshold = 0.15
	}
	return &Regime{name: "regime", threshold: threshold}
}

// Name returns the producer identifier used for bus registration.
func (r *Regime) Name() string { return r.name }

// Emit scores the snapshot's momentum discounted by volatility.
func (r *Regime) Emit(snap signal.MarketSnapshot) (signal.Message, error) {
	if snap.Symbol == "" || snap.Price <= 0 {
		return signal.Message{}, fmt.Errorf("regime: unusable snapshot for %q", snap.Symbol)
	}

	score := snap.Momentum * (1 - signal.Clamp01(snap.Volatility))
	msg := signal.Message{
		Producer:  r.name,
		Symbol:    snap.Symbol,
		Ts:        snap.Ts,
		Ready:     true,
		Direction: signal.Neutral,
		Coherence: signal.Clamp01(1 - snap.Volatility),
		Fields: map[string]float64{
			"momentum":   snap.Momentum,
			"volatility": snap.Volatility,
			"score":      score,
		},
	}

	if math.Abs(score) < r.threshold {
		return msg, nil
	}
	msg.Confidence = signal.Clamp01(math.Abs(score))
	if score > 0 {
		msg.Direction = signal.Buy
	} else {
		msg.Direction = signal.Sell
	}
	return msg, nil
}
