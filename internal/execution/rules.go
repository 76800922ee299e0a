package execution

import (
	"fmt"
	"math"
)

// Rules are one venue's trading constraints for a symbol.
type Rules struct {
	MinQty      float64
	MaxQty      float64
	StepSize    float64
	TickSize    float64
	MinNotional float64
}

// RulesService resolves venue constraints for a symbol.
type RulesService interface {
	Rules(symbol, venue string) (Rules, error)
}

// StaticRules serves rules from an in-memory table, with a fallback default.
type StaticRules struct {
	Table   map[string]Rules // key: symbol@venue
	Default Rules
}

// Rules returns the configured constraints for symbol on venue.
func (s StaticRules) Rules(symbol, venue string) (Rules, error) {
	if r, ok := s.Table[symbol+"@"+venue]; ok {
		return r, nil
	}
	return s.Default, nil
}

// Normalize rounds an order onto the venue grid and re-validates it. Quantity
// rounds down to the step, price rounds to the nearest tick; the order is
// rejected when the rounded form violates min/max quantity or the minimum
// notional.
func Normalize(order Order, rules Rules) (Order, error) {
	out := order

	if rules.StepSize > 0 {
		out.Qty = math.Floor(order.Qty/rules.StepSize) * rules.StepSize
	}
	if rules.TickSize > 0 {
		out.Price = math.Round(order.Price/rules.TickSize) * rules.TickSize
	}

	if out.Qty <= 0 {
		return Order{}, fmt.Errorf("order for %s rounds to zero quantity", order.Symbol)
	}
	if rules.MinQty > 0 && out.Qty < rules.MinQty {
		return Order{}, fmt.Errorf("quantity %.8f below venue minimum %.8f", out.Qty, rules.MinQty)
	}
	if rules.MaxQty > 0 && out.Qty > rules.MaxQty {
		out.Qty = rules.MaxQty
		if rules.StepSize > 0 {
			out.Qty = math.Floor(out.Qty/rules.StepSize) * rules.StepSize
		}
	}
	if rules.MinNotional > 0 && out.Qty*out.Price < rules.MinNotional {
		return Order{}, fmt.Errorf("notional %.2f below venue minimum %.2f", out.Qty*out.Price, rules.MinNotional)
	}
	return out, nil
}
