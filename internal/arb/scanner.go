// Package arb maintains a short-lived multi-venue price cache and detects
// fee-adjusted profitable spreads.
package arb

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/metrics"
)

// PricePoint is one venue's last known price for a symbol. Points older than
// the TTL are never used in a scan.
type PricePoint struct {
	Symbol string
	Venue  string
	Price  float64
	Ts     time.Time
}

// Opportunity is one detected cross-venue spread.
type Opportunity struct {
	ID           string
	Symbol       string
	BuyVenue     string
	BuyPrice     float64
	SellVenue    string
	SellPrice    float64
	GrossPct     float64 // (sell-buy)/mid × 100; mid-based so both directions mirror exactly
	NetPct       float64 // gross minus both venue fees
	Viable       bool
	DetectedAt   time.Time
}

// Options tunes spread detection.
type Options struct {
	MinSpreadPct  float64            // gross spread floor, percent
	ViabilityPct  float64            // net-of-fees floor, percent
	PriceTTL      time.Duration
	HistorySize   int                // executed-opportunity ring capacity
	VenueFees     map[string]float64 // taker fee percent per venue
	DefaultFeePct float64
}

// Scanner holds the venue price cache and the executed-opportunity history.
type Scanner struct {
	mu      sync.Mutex
	opts    Options
	prices  map[string]map[string]PricePoint // symbol -> venue -> point
	history *ring
	now     func() time.Time
}

// New builds a scanner.
func New(opts Options) *Scanner {
	if opts.PriceTTL <= 0 {
		opts.PriceTTL = 5 * time.Second
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 64
	}
	return &Scanner{
		opts:    opts,
		prices:  make(map[string]map[string]PricePoint),
		history: newRing(opts.HistorySize),
		now:     time.Now,
	}
}

// SetClock overrides the time source for deterministic tests.
func (s *Scanner) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// UpdatePrice overwrites the PricePoint for symbol on venue.
func (s *Scanner) UpdatePrice(symbol, venue string, price float64) {
	if price <= 0 {
		return
	}
	s.mu.Lock()
	byVenue, ok := s.prices[symbol]
	if !ok {
		byVenue = make(map[string]PricePoint)
		s.prices[symbol] = byVenue
	}
	byVenue[venue] = PricePoint{Symbol: symbol, Venue: venue, Price: price, Ts: s.now()}
	s.mu.Unlock()
}

// fee returns the taker fee percent for a venue.
func (s *Scanner) fee(venue string) float64 {
	if f, ok := s.opts.VenueFees[venue]; ok {
		return f
	}
	return s.opts.DefaultFeePct
}

// Scan evaluates every unordered venue pair for each symbol, in both
// directions, and returns viable opportunities sorted descending by net profit.
func (s *Scanner) Scan(symbols []string) []Opportunity {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var found []Opportunity
	for _, symbol := range symbols {
		points := s.freshPoints(symbol, now)
		for i := 0; i < len(points); i++ {
			for j := i + 1; j < len(points); j++ {
				if opp, ok := s.evaluate(symbol, points[i], points[j], now); ok {
					found = append(found, opp)
				}
				if opp, ok := s.evaluate(symbol, points[j], points[i], now); ok {
					found = append(found, opp)
				}
			}
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].NetPct > found[j].NetPct })
	if len(found) > 0 {
		metrics.OpportunitiesTotal.Inc()
	}
	return found
}

// freshPoints returns non-stale venue points for a symbol in venue order.
func (s *Scanner) freshPoints(symbol string, now time.Time) []PricePoint {
	byVenue := s.prices[symbol]
	venues := make([]string, 0, len(byVenue))
	for venue := range byVenue {
		venues = append(venues, venue)
	}
	sort.Strings(venues)

	points := make([]PricePoint, 0, len(venues))
	for _, venue := range venues {
		point := byVenue[venue]
		if now.Sub(point.Ts) > s.opts.PriceTTL {
			metrics.StaleQuotes.WithLabelValues(venue).Inc()
			continue
		}
		points = append(points, point)
	}
	return points
}

// evaluate checks one buy/sell direction between two venues.
func (s *Scanner) evaluate(symbol string, buy, sell PricePoint, now time.Time) (Opportunity, bool) {
	if buy.Price <= 0 || sell.Price <= buy.Price {
		return Opportunity{}, false
	}
	gross := grossSpreadPct(buy.Price, sell.Price)
	if gross < s.opts.MinSpreadPct {
		return Opportunity{}, false
	}
	net := gross - s.fee(buy.Venue) - s.fee(sell.Venue)
	if net <= s.opts.ViabilityPct {
		return Opportunity{}, false
	}
	return Opportunity{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		BuyVenue:   buy.Venue,
		BuyPrice:   buy.Price,
		SellVenue:  sell.Venue,
		SellPrice:  sell.Price,
		GrossPct:   gross,
		NetPct:     net,
		Viable:     true,
		DetectedAt: now,
	}, true
}

// Best returns the top viable opportunity across the given symbols.
func (s *Scanner) Best(symbols []string) (Opportunity, bool) {
	opps := s.Scan(symbols)
	if len(opps) == 0 {
		return Opportunity{}, false
	}
	return opps[0], true
}

// grossSpreadPct measures the spread against the mid price so that reversing
// the direction flips the sign without changing the magnitude.
func grossSpreadPct(buyPrice, sellPrice float64) float64 {
	mid := (buyPrice + sellPrice) / 2
	if mid <= 0 {
		return 0
	}
	return (sellPrice - buyPrice) / mid * 100
}

// NetProfitPct computes the fee-adjusted profit of buying on buyVenue and
// selling on sellVenue at the given prices, in percent. Negative when the
// direction loses money; reversing the venues negates the gross component.
func (s *Scanner) NetProfitPct(buyVenue string, buyPrice float64, sellVenue string, sellPrice float64) float64 {
	if buyPrice <= 0 || sellPrice <= 0 {
		return 0
	}
	return grossSpreadPct(buyPrice, sellPrice) - s.fee(buyVenue) - s.fee(sellVenue)
}

// RecordExecution retains an executed opportunity in the bounded history ring.
func (s *Scanner) RecordExecution(opp Opportunity) {
	s.mu.Lock()
	s.history.push(opp)
	s.mu.Unlock()
}

// History returns the retained executed opportunities, oldest first.
func (s *Scanner) History() []Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.items()
}
