// Package producer contains the concrete signal producers bundled with the
// engine. Producers are pure with respect to the bus: the orchestrator
// publishes their message and heartbeats on their behalf after every emit.
package producer

import "github.com/RA-CONSULTING/aureon-trading-sub000/internal/signal"

// Producer turns one market snapshot into one opinion.
type Producer interface {
	Emit(snap signal.MarketSnapshot) (signal.Message, error)
	Name() string
}
