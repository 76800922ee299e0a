package producer

import (
	"time"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/signal"
)

// Calendar is a stateless producer that marks configured UTC hours as event
// windows. It never takes a direction; its job is to raise the "event" field
// the engine's strict-entry gate looks for.
type Calendar struct {
	hours map[int]bool
	now   func() time.Time
}

// NewCalendar builds a calendar over the given UTC hours (0-23).
func NewCalendar(hours []int) *Calendar {
	set := make(map[int]bool, len(hours))
	for _, h := range hours {
		set[h] = true
	}
	return &Calendar{hours: set, now: time.Now}
}

// SetClock overrides the time source for deterministic tests.
func (c *Calendar) SetClock(now func() time.Time) { c.now = now }

// Name identifies the producer on the bus.
func (c *Calendar) Name() string { return "calendar" }

// Emit reports whether the current hour is inside an event window.
func (c *Calendar) Emit(snap signal.MarketSnapshot) (signal.Message, error) {
	ts := c.now().UTC()
	var event float64
	if c.hours[ts.Hour()] {
		event = 1
	}
	return signal.Message{
		Producer:   c.Name(),
		Symbol:     snap.Symbol,
		Ts:         ts,
		Ready:      true,
		Coherence:  1, // the calendar is never unsure of the time
		Confidence: 0,
		Direction:  signal.Neutral,
		Fields:     map[string]float64{"event": event},
	}, nil
}
