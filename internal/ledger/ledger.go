// Package ledger is the authoritative record of open positions, their
// protective levels, and their state transitions (NONE -> OPEN -> TRAILING ->
// CLOSED). Persistence is best-effort: a failed write never blocks an
// in-memory transition.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sink receives best-effort persistence writes for opens and closes.
type Sink interface {
	SaveOpen(Position) error
	SaveClose(Closed) error
}

// Options carries the percentage offsets for protective levels.
type Options struct {
	MaxPositions          int
	TakeProfitPct         float64 // e.g. 0.05 places TP 5% past entry
	StopLossPct           float64
	TrailingActivationPct float64 // unrealized P&L% that flips the trailing flag
	TrailingDistancePct   float64 // stop distance from the running peak
}

// ErrDuplicate is returned when a live position already exists for the symbol.
var ErrDuplicate = errors.New("live position already exists for symbol")

// ErrMaxPositions is returned when the ledger is full.
var ErrMaxPositions = errors.New("position count at maximum")

// ErrNotFound is returned for operations on absent symbols.
var ErrNotFound = errors.New("no live position for symbol")

// Ledger guards the live position set. At most one live position per symbol.
type Ledger struct {
	mu        sync.Mutex
	opts      Options
	positions map[string]*Position
	sink      Sink
	log       zerolog.Logger
	now       func() time.Time
}

// New constructs an empty ledger. sink may be nil (no persistence).
func New(opts Options, sink Sink, log zerolog.Logger) *Ledger {
	return &Ledger{
		opts:      opts,
		positions: make(map[string]*Position),
		sink:      sink,
		log:       log,
		now:       time.Now,
	}
}

// SetClock overrides the time source for deterministic tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Open creates a live position with TP/SL computed from the configured offsets,
// direction-aware: LONG gets SL < entry < TP, SHORT the mirror image.
func (l *Ledger) Open(symbol, venue string, side Side, price, quantity float64, risk RiskSnapshot) (Position, error) {
	if price <= 0 {
		return Position{}, fmt.Errorf("entry price must be positive, got %v", price)
	}
	if quantity <= 0 {
		return Position{}, fmt.Errorf("quantity must be positive, got %v", quantity)
	}

	l.mu.Lock()
	if _, exists := l.positions[symbol]; exists {
		l.mu.Unlock()
		return Position{}, ErrDuplicate
	}
	if l.opts.MaxPositions > 0 && len(l.positions) >= l.opts.MaxPositions {
		l.mu.Unlock()
		return Position{}, ErrMaxPositions
	}

	pos := &Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Venue:      venue,
		Side:       side,
		EntryPrice: price,
		Quantity:   quantity,
		Notional:   price * quantity,
		PeakPrice:  price,
		LastPrice:  price,
		OpenedAt:   l.now(),
		EntryRisk:  risk,
	}
	if side == Long {
		pos.TakeProfit = price * (1 + l.opts.TakeProfitPct)
		pos.StopLoss = price * (1 - l.opts.StopLossPct)
	} else {
		pos.TakeProfit = price * (1 - l.opts.TakeProfitPct)
		pos.StopLoss = price * (1 + l.opts.StopLossPct)
	}
	l.positions[symbol] = pos
	snapshot := *pos
	l.mu.Unlock()

	l.persistOpen(snapshot)
	return snapshot, nil
}

// UpdatePrice recomputes unrealized P&L, advances trailing state, and closes
// the position when a protective level is crossed. The returned Closed record
// is non-nil only when this update triggered a close.
func (l *Ledger) UpdatePrice(symbol string, price float64) (*Closed, error) {
	if price <= 0 {
		return nil, fmt.Errorf("price must be positive, got %v", price)
	}

	l.mu.Lock()
	pos, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return nil, ErrNotFound
	}

	pos.LastPrice = price
	pos.Unrealized = pos.pnl(price)

	// Trailing activation: once unrealized P&L% crosses the threshold the
	// position stays in TRAILING for the rest of its life.
	if !pos.Trailing && l.opts.TrailingActivationPct > 0 && pos.pnlPct(price) >= l.opts.TrailingActivationPct {
		pos.Trailing = true
		pos.PeakPrice = price
		pos.TrailingStop = l.trailFrom(pos.Side, price)
	} else if pos.Trailing {
		l.ratchet(pos, price)
	}

	if reason, hit := l.triggered(pos, price); hit {
		closed := l.closeLocked(pos, price, reason)
		l.mu.Unlock()
		l.persistClose(closed)
		return &closed, nil
	}
	l.mu.Unlock()
	return nil, nil
}

// trailFrom computes a trailing stop at the configured distance from peak.
func (l *Ledger) trailFrom(side Side, peak float64) float64 {
	if side == Long {
		return peak * (1 - l.opts.TrailingDistancePct)
	}
	return peak * (1 + l.opts.TrailingDistancePct)
}

// ratchet moves the trailing stop toward the running peak, never backward.
func (l *Ledger) ratchet(pos *Position, price float64) {
	if pos.Side == Long {
		if price > pos.PeakPrice {
			pos.PeakPrice = price
		}
		if next := l.trailFrom(Long, pos.PeakPrice); next > pos.TrailingStop {
			pos.TrailingStop = next
		}
	} else {
		if price < pos.PeakPrice {
			pos.PeakPrice = price
		}
		if next := l.trailFrom(Short, pos.PeakPrice); pos.TrailingStop == 0 || next < pos.TrailingStop {
			pos.TrailingStop = next
		}
	}
}

// triggered checks protective levels in TP-first order.
func (l *Ledger) triggered(pos *Position, price float64) (CloseReason, bool) {
	stop := pos.effectiveStop()
	if pos.Side == Long {
		if price >= pos.TakeProfit {
			return ReasonTakeProfit, true
		}
		if price <= stop {
			if pos.Trailing && stop == pos.TrailingStop {
				return ReasonTrailingStop, true
			}
			return ReasonStopLoss, true
		}
	} else {
		if price <= pos.TakeProfit {
			return ReasonTakeProfit, true
		}
		if price >= stop {
			if pos.Trailing && stop == pos.TrailingStop {
				return ReasonTrailingStop, true
			}
			return ReasonStopLoss, true
		}
	}
	return "", false
}

// Close ends a position at the given price for an explicit reason.
func (l *Ledger) Close(symbol string, price float64, reason CloseReason) (Closed, error) {
	l.mu.Lock()
	pos, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return Closed{}, ErrNotFound
	}
	closed := l.closeLocked(pos, price, reason)
	l.mu.Unlock()

	l.persistClose(closed)
	return closed, nil
}

// closeLocked removes the position and builds the terminal record. Callers hold
// the mutex.
func (l *Ledger) closeLocked(pos *Position, price float64, reason CloseReason) Closed {
	delete(l.positions, pos.Symbol)
	pos.LastPrice = price
	pos.Unrealized = 0
	return Closed{
		Position:  *pos,
		ExitPrice: price,
		Realized:  pos.pnl(price),
		Reason:    reason,
		ClosedAt:  l.now(),
	}
}

// Get returns a copy of the live position for symbol.
func (l *Ledger) Get(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all live positions.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	return out
}

// Count reports the live position count.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// Unrealized sums unrealized P&L across the live set.
func (l *Ledger) Unrealized() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum float64
	for _, pos := range l.positions {
		sum += pos.Unrealized
	}
	return sum
}

// Restore rehydrates live positions from cold-start storage without persisting.
func (l *Ledger) Restore(positions []Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pos := range positions {
		p := pos
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		l.positions[p.Symbol] = &p
	}
}

func (l *Ledger) persistOpen(pos Position) {
	if l.sink == nil {
		return
	}
	if err := l.sink.SaveOpen(pos); err != nil {
		l.log.Warn().Err(err).Str("sym", pos.Symbol).Msg("position open not persisted")
	}
}

func (l *Ledger) persistClose(closed Closed) {
	if l.sink == nil {
		return
	}
	if err := l.sink.SaveClose(closed); err != nil {
		l.log.Warn().Err(err).Str("sym", closed.Symbol).Msg("position close not persisted")
	}
}
