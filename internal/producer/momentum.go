package producer

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/signal"
)

// Momentum watches price change over a sliding window of snapshots and emits a
// directional opinion once the move clears a threshold alongside minimum volume.
type Momentum struct {
	name      string
	threshold float64
	window    time.Duration
	minVolume float64
	mu        sync.Mutex
	series    map[string]*snapSeries
}

type snapSeries struct {
	snaps []signal.MarketSnapshot
}

// NewMomentum builds a momentum producer using percent change and volume filters.
func NewMomentum(threshold float64, windowSecs int, minVolume float64) *Momentum {
	if threshold <= 0 {
		threshold = 0.02
	}
	if windowSecs <= 0 {
		windowSecs = 180
	}
	return &Momentum{
		name:      "momentum",
		threshold: threshold,
		window:    time.Duration(windowSecs) * time.Second,
		minVolume: math.Max(0, minVolume),
		series:    make(map[string]*snapSeries),
	}
}

// Name returns the producer identifier used for bus registration.
func (m *Momentum) Name() string { return m.name }

// Emit folds the snapshot into the window and reports the directional view.
func (m *Momentum) Emit(snap signal.MarketSnapshot) (signal.Message, error) {
	if snap.Symbol == "" || snap.Price <= 0 {
		return signal.Message{}, fmt.Errorf("momentum: unusable snapshot for %q", snap.Symbol)
	}

	m.mu.Lock()
	series := m.series[snap.Symbol]
	if series == nil {
		series = &snapSeries{}
		m.series[snap.Symbol] = series
	}
	series.append(snap, m.window)
	oldest := series.snaps[0]
	depth := len(series.snaps)
	totalVolume := series.volume()
	m.mu.Unlock()

	msg := signal.Message{
		Producer:  m.name,
		Symbol:    snap.Symbol,
		Ts:        snap.Ts,
		Direction: signal.Neutral,
		Fields:    map[string]float64{},
	}

	if oldest.Price <= 0 {
		return msg, nil
	}
	change := (snap.Price - oldest.Price) / oldest.Price
	msg.Fields["change"] = change
	msg.Fields["volume"] = totalVolume

	// Coherence grows with window depth; a two-point window is barely an opinion.
	msg.Coherence = signal.Clamp01(float64(depth) / 10.0)
	msg.Ready = depth >= 3

	if m.minVolume > 0 && totalVolume < m.minVolume {
		return msg, nil
	}
	if math.Abs(change) < m.threshold {
		return msg, nil
	}

	msg.Confidence = signal.Clamp01(math.Tanh(math.Abs(change) / m.threshold))
	if change > 0 {
		msg.Direction = signal.Buy
	} else {
		msg.Direction = signal.Sell
	}
	return msg, nil
}

func (s *snapSeries) append(snap signal.MarketSnapshot, window time.Duration) {
	s.snaps = append(s.snaps, snap)
	cutoff := snap.Ts.Add(-window)
	idx := 0
	for i, existing := range s.snaps {
		if existing.Ts.After(cutoff) {
			idx = i
			break
		}
		idx = i + 1
	}
	if idx > 0 && idx <= len(s.snaps) {
		s.snaps = s.snaps[idx:]
	}
}

func (s *snapSeries) volume() float64 {
	var total float64
	for _, snap := range s.snaps {
		total += math.Abs(snap.Volume)
	}
	return total
}
