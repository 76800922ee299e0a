// Package heat bounds portfolio concentration. Every symbol maps to exactly one
// correlation group; heat is capital-at-risk normalized by total capital and
// scaled by the group multiplier. The global cap always exceeds every group cap,
// so the group cap binds first for concentrated books.
package heat

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Group is one correlation bucket.
type Group struct {
	Name       string
	Multiplier float64
	Cap        float64
}

// Options configures the limiter.
type Options struct {
	GlobalCap    float64
	DefaultGroup string            // bucket for unknown symbols
	Groups       []Group           // group definitions
	SymbolGroups map[string]string // static symbol -> group lookup
}

// Entry is one symbol's live contribution to portfolio risk.
type Entry struct {
	Symbol string
	Group  string
	Heat   float64
	Size   float64
}

// Verdict is the outcome of a CanAdd check.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Limiter tracks per-symbol heat against global and per-group ceilings.
type Limiter struct {
	mu      sync.Mutex
	opts    Options
	groups  map[string]Group
	capital float64
	entries map[string]Entry
}

// New builds a limiter. totalCapital is the normalization base; keep it in sync
// with the allocator via SetCapital.
func New(totalCapital float64, opts Options) *Limiter {
	groups := make(map[string]Group, len(opts.Groups))
	for _, g := range opts.Groups {
		if g.Multiplier <= 0 {
			g.Multiplier = 1.0
		}
		groups[g.Name] = g
	}
	if _, ok := groups[opts.DefaultGroup]; !ok && opts.DefaultGroup != "" {
		groups[opts.DefaultGroup] = Group{Name: opts.DefaultGroup, Multiplier: 1.0, Cap: opts.GlobalCap}
	}
	return &Limiter{
		opts:    opts,
		groups:  groups,
		capital: totalCapital,
		entries: make(map[string]Entry),
	}
}

// SetCapital updates the normalization base (call after equity updates).
func (l *Limiter) SetCapital(capital float64) {
	l.mu.Lock()
	if capital > 0 {
		l.capital = capital
	}
	l.mu.Unlock()
}

// GroupFor resolves a symbol to its correlation group, defaulting unknowns.
func (l *Limiter) GroupFor(symbol string) Group {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.groupForLocked(symbol)
}

func (l *Limiter) groupForLocked(symbol string) Group {
	if name, ok := l.opts.SymbolGroups[symbol]; ok {
		if g, defined := l.groups[name]; defined {
			return g
		}
	}
	if g, ok := l.groups[l.opts.DefaultGroup]; ok {
		return g
	}
	return Group{Name: "default", Multiplier: 1.0, Cap: l.opts.GlobalCap}
}

// heatFor computes (size/capital) × groupMultiplier.
func (l *Limiter) heatFor(symbol string, size float64) (float64, Group) {
	g := l.groupForLocked(symbol)
	if l.capital <= 0 {
		return 0, g
	}
	return (size / l.capital) * g.Multiplier, g
}

// CanAdd projects the heat of a new position and rejects it when either the
// global cap or the symbol's group cap would be exceeded.
func (l *Limiter) CanAdd(symbol string, size float64) Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, g := l.heatFor(symbol, size)
	projectedTotal := l.totalLocked() + h
	projectedGroup := l.groupLocked(g.Name) + h

	if l.opts.GlobalCap > 0 && projectedTotal > l.opts.GlobalCap {
		return Verdict{Reason: fmt.Sprintf("total heat %.3f would exceed global cap %.2f", projectedTotal, l.opts.GlobalCap)}
	}
	if g.Cap > 0 && projectedGroup > g.Cap {
		return Verdict{Reason: fmt.Sprintf("group %s heat %.3f would exceed cap %.2f", g.Name, projectedGroup, g.Cap)}
	}
	return Verdict{Allowed: true}
}

// Add records a symbol's position heat. Callers should gate through CanAdd.
func (l *Limiter) Add(symbol string, size float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, g := l.heatFor(symbol, size)
	l.entries[symbol] = Entry{Symbol: symbol, Group: g.Name, Heat: h, Size: size}
}

// Update recomputes a live entry for a resized position.
func (l *Limiter) Update(symbol string, size float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[symbol]; !ok {
		return
	}
	h, g := l.heatFor(symbol, size)
	l.entries[symbol] = Entry{Symbol: symbol, Group: g.Name, Heat: h, Size: size}
}

// Remove drops a symbol's heat entry on position close.
func (l *Limiter) Remove(symbol string) {
	l.mu.Lock()
	delete(l.entries, symbol)
	l.mu.Unlock()
}

// SuggestedSize inverts the heat formula and returns the largest position size
// still compliant with both the global and the group cap, zero when saturated.
func (l *Limiter) SuggestedSize(symbol string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	g := l.groupForLocked(symbol)
	if g.Multiplier <= 0 || l.capital <= 0 {
		return 0
	}

	headroom := math.Inf(1)
	if l.opts.GlobalCap > 0 {
		headroom = l.opts.GlobalCap - l.totalLocked()
	}
	if g.Cap > 0 {
		if gh := g.Cap - l.groupLocked(g.Name); gh < headroom {
			headroom = gh
		}
	}
	if headroom <= 0 || math.IsInf(headroom, 1) {
		return 0
	}
	return headroom * l.capital / g.Multiplier
}

// Total returns the current portfolio heat.
func (l *Limiter) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLocked()
}

func (l *Limiter) totalLocked() float64 {
	var sum float64
	for _, e := range l.entries {
		sum += e.Heat
	}
	return sum
}

func (l *Limiter) groupLocked(name string) float64 {
	var sum float64
	for _, e := range l.entries {
		if e.Group == name {
			sum += e.Heat
		}
	}
	return sum
}

// Entries returns live heat entries sorted by symbol.
func (l *Limiter) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
