package ledger

import "time"

// Side enumerates position directions.
type Side string

const (
	// Long profits when price rises.
	Long Side = "LONG"
	// Short profits when price falls.
	Short Side = "SHORT"
)

// CloseReason labels why a position left the live set.
type CloseReason string

const (
	ReasonTakeProfit   CloseReason = "take_profit"
	ReasonStopLoss     CloseReason = "stop_loss"
	ReasonTrailingStop CloseReason = "trailing_stop"
	ReasonManual       CloseReason = "manual"
)

// RiskSnapshot freezes the risk context at entry time.
type RiskSnapshot struct {
	KellyFraction float64
	PortfolioHeat float64
	Confidence    float64
}

// Position is one live trade. The protective StopLoss keeps its entry-relative
// side for the life of the position; the trailing stop ratchets separately and
// the effective stop is whichever is tighter.
type Position struct {
	ID           string
	Symbol       string
	Venue        string
	Side         Side
	EntryPrice   float64
	Quantity     float64
	Notional     float64
	TakeProfit   float64
	StopLoss     float64
	Trailing     bool
	TrailingStop float64
	PeakPrice    float64
	LastPrice    float64
	Unrealized   float64
	OpenedAt     time.Time
	EntryRisk    RiskSnapshot
}

// effectiveStop is the tighter of the protective and trailing stops.
func (p *Position) effectiveStop() float64 {
	if !p.Trailing || p.TrailingStop == 0 {
		return p.StopLoss
	}
	if p.Side == Long {
		if p.TrailingStop > p.StopLoss {
			return p.TrailingStop
		}
		return p.StopLoss
	}
	if p.TrailingStop < p.StopLoss {
		return p.TrailingStop
	}
	return p.StopLoss
}

// pnl computes unrealized profit at the given price.
func (p *Position) pnl(price float64) float64 {
	if p.Side == Long {
		return (price - p.EntryPrice) * p.Quantity
	}
	return (p.EntryPrice - price) * p.Quantity
}

// pnlPct is unrealized profit relative to entry notional.
func (p *Position) pnlPct(price float64) float64 {
	if p.Notional == 0 {
		return 0
	}
	return p.pnl(price) / p.Notional
}

// Closed is the terminal record emitted when a position leaves the live set.
type Closed struct {
	Position
	ExitPrice float64
	Realized  float64
	Reason    CloseReason
	ClosedAt  time.Time
}
