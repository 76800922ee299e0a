package bus

import (
	"sync"
	"time"
)

// healthDecay controls how fast the rolling health score forgets old behaviour.
const healthDecay = 0.2

// Liveness tracks per-producer heartbeats and a rolling health score. A producer
// that misses its heartbeat beyond the timeout is excluded from consensus entirely,
// so one stalled producer cannot starve readiness.
type Liveness struct {
	mu       sync.Mutex
	timeout  time.Duration
	lastBeat map[string]time.Time
	health   map[string]float64
	now      func() time.Time
}

// NewLiveness builds a registry with the given heartbeat timeout.
func NewLiveness(timeout time.Duration) *Liveness {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Liveness{
		timeout:  timeout,
		lastBeat: make(map[string]time.Time),
		health:   make(map[string]float64),
		now:      time.Now,
	}
}

// Heartbeat records a producer check-in and updates its health score. The score
// is an exponentially weighted average of on-time arrivals: 1.0 means every
// heartbeat landed inside the timeout window.
func (l *Liveness) Heartbeat(name string) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	prev, seen := l.lastBeat[name]
	onTime := 1.0
	if seen && now.Sub(prev) > l.timeout {
		onTime = 0.0
	}
	if !seen {
		l.health[name] = 1.0
	} else {
		l.health[name] = (1-healthDecay)*l.health[name] + healthDecay*onTime
	}
	l.lastBeat[name] = now
}

// Alive reports whether the producer has heartbeated within the timeout.
func (l *Liveness) Alive(name string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	beat, ok := l.lastBeat[name]
	return ok && now.Sub(beat) <= l.timeout
}

// TimedOut reports whether the producer has heartbeated before but has now been
// silent beyond the timeout. Producers never seen at all are not timed out.
func (l *Liveness) TimedOut(name string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	beat, ok := l.lastBeat[name]
	return ok && now.Sub(beat) > l.timeout
}

// Health returns the rolling health score for a producer, zero when unknown.
func (l *Liveness) Health(name string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.health[name]
}

// SetClock overrides the time source; tests step a virtual clock through it.
func (l *Liveness) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
