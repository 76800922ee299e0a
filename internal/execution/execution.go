// Package execution handles order construction, venue-rule validation, and the
// dispatch boundary. Everything that moves real capital goes through Executor.
package execution

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/metrics"
)

// Side enumerates order directions.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// Order represents a placement request.
type Order struct {
	ID     string
	Symbol string
	Venue  string
	Side   Side
	Qty    float64
	Price  float64
}

// Result is the venue's answer to a placement.
type Result struct {
	Success       bool
	OrderID       string
	ExecutedPrice float64
	Err           string
}

// Executor is the sole side-effecting boundary for real capital movement.
type Executor interface {
	Execute(ctx context.Context, order Order) (Result, error)
}

// SimExecutor fills every valid order at its limit price and logs it. It backs
// simulation mode and tests; it never talks to a venue.
type SimExecutor struct {
	log         zerolog.Logger
	slippagePct float64
}

// NewSimExecutor builds a simulated executor with optional adverse slippage.
func NewSimExecutor(log zerolog.Logger, slippagePct float64) *SimExecutor {
	return &SimExecutor{log: log, slippagePct: slippagePct}
}

// Execute confirms the order immediately at the (slippage-adjusted) price.
func (e *SimExecutor) Execute(_ context.Context, order Order) (Result, error) {
	if order.Qty <= 0 || order.Price <= 0 {
		return Result{Err: "invalid order: quantity and price must be positive"}, nil
	}
	fill := order.Price
	if e.slippagePct > 0 {
		adj := fill * e.slippagePct / 100
		if order.Side == Buy {
			fill += adj
		} else {
			fill -= adj
		}
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
	e.log.Info().
		Str("sym", order.Symbol).
		Str("side", string(order.Side)).
		Float64("qty", order.Qty).
		Float64("px", fill).
		Msg("simulated fill")
	return Result{Success: true, OrderID: uuid.NewString(), ExecutedPrice: fill}, nil
}
