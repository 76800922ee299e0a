// Package feed hosts market data sources and the snapshot builder that turns
// raw ticks into the per-symbol view the engine consumes each cycle.
package feed

import (
	"context"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/signal"
)

// Source streams ticks until its context is canceled.
type Source interface {
	Run(ctx context.Context, out chan<- signal.Tick) error
	Name() string
}

// QuoteSink receives per-venue price updates; the arbitrage scanner implements it.
type QuoteSink interface {
	UpdatePrice(symbol, venue string, price float64)
}
