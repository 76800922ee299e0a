// Package engine is the orchestrator: one serialized cycle that pulls a market
// snapshot, runs every producer, fuses the bus consensus with capital and heat
// checks, walks open positions, and optionally dispatches execution.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/arb"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/bus"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/capital"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/execution"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/feed"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/heat"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/learn"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/ledger"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/metrics"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/producer"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/signal"
)

// Action is the engine's per-cycle verdict.
type Action string

const (
	// ActBuy opens or extends long exposure.
	ActBuy Action = "BUY"
	// ActSell closes a long or opens a short.
	ActSell Action = "SELL"
	// ActHold does nothing this cycle.
	ActHold Action = "HOLD"
)

// Decision is the fused outcome of one cycle, with a human-readable reason.
type Decision struct {
	Action     Action
	Symbol     string
	Size       float64 // dollar notional, zero for HOLD
	Confidence float64
	Reason     string
	At         time.Time
}

// Persistence is the cold-start and snapshot boundary. Writes elsewhere go
// through the ledger sink; these are the only reads the engine performs.
type Persistence interface {
	LoadOpenPositions() ([]ledger.Position, error)
	LastCapital() (capital.State, bool, error)
	SaveCapital(capital.State) error
}

// outcomeRecorder is implemented by learning providers that want realized
// trade results fed back in.
type outcomeRecorder interface {
	RecordOutcome(profit float64)
}

// Options carries the engine-level switches.
type Options struct {
	Symbols      []string
	SnapshotTTL  time.Duration
	Simulation   bool // decide but never dispatch
	StrictEvents bool // entries additionally require an event-flagged producer
	DefaultVenue string
	MinTradeUSD  float64
}

// Deps are the components the engine owns for its lifetime. Everything is an
// explicit handle so tests can build isolated engines.
type Deps struct {
	Bus       *bus.Bus
	Capital   *capital.Allocator
	Heat      *heat.Limiter
	Ledger    *ledger.Ledger
	Scanner   *arb.Scanner
	Feed      *feed.Builder
	Producers []producer.Producer
	Executor  execution.Executor
	Rules     execution.RulesService
	Learn     learn.Provider
	Store     Persistence // nil disables rehydration and capital snapshots
}

// Engine sequences the trading cycle over its component set.
type Engine struct {
	opts Options
	deps Deps
	log  zerolog.Logger

	// cycleMu is the non-reentrancy guard: TryLock, never Lock, so a slow
	// cycle makes the next tick skip instead of queue.
	cycleMu sync.Mutex

	mu       sync.Mutex
	rotation int
	cycles   uint64
	last     Decision
	now      func() time.Time
}

// New wires an engine. Producers are registered on the bus immediately so the
// readiness denominator is correct from the first cycle.
func New(opts Options, deps Deps, log zerolog.Logger) *Engine {
	e := &Engine{
		opts: opts,
		deps: deps,
		log:  log,
		now:  time.Now,
	}
	for _, p := range deps.Producers {
		deps.Bus.Register(p.Name())
	}
	return e
}

// SetClock overrides the time source for deterministic tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// Restore rehydrates open positions and the capital snapshot from persistence.
// Call once before the first cycle.
func (e *Engine) Restore() error {
	if e.deps.Store == nil {
		return nil
	}
	if state, ok, err := e.deps.Store.LastCapital(); err != nil {
		return fmt.Errorf("restore capital: %w", err)
	} else if ok {
		e.deps.Capital.UpdateEquity(state.Total, 0)
	}

	positions, err := e.deps.Store.LoadOpenPositions()
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}
	e.deps.Ledger.Restore(positions)
	for _, pos := range positions {
		e.deps.Capital.Reserve(pos.Symbol, pos.Notional)
		e.deps.Heat.Add(pos.Symbol, pos.Notional)
	}
	e.log.Info().Int("positions", len(positions)).Msg("rehydrated open positions")
	return nil
}

// Cycle runs one full orchestrator pass. Reentrant calls are skipped, never
// queued; every exit path releases the guard.
func (e *Engine) Cycle(ctx context.Context) error {
	if !e.cycleMu.TryLock() {
		metrics.CyclesSkipped.Inc()
		e.log.Warn().Msg("previous cycle still running, skipping tick")
		return nil
	}
	defer e.cycleMu.Unlock()

	candidate := e.nextSymbol()
	if candidate == "" {
		return fmt.Errorf("no symbols configured")
	}

	// Step 1: market snapshot. A failed pull degrades the cycle to HOLD for
	// the candidate; position maintenance below still runs.
	snap, snapErr := e.deps.Feed.Snapshot(candidate, e.opts.SnapshotTTL)
	if snapErr != nil {
		e.log.Warn().Err(snapErr).Str("symbol", candidate).Msg("snapshot pull failed")
	}

	// Step 2: producers. Failures are logged and counted, never abort the
	// cycle. The engine publishes and heartbeats on the producer's behalf.
	if snapErr == nil {
		for _, p := range e.deps.Producers {
			msg, err := p.Emit(snap)
			if err != nil {
				metrics.ProducerErrors.WithLabelValues(p.Name()).Inc()
				e.log.Warn().Err(err).Str("producer", p.Name()).Msg("producer failed")
				continue
			}
			e.deps.Bus.Publish(msg)
			e.deps.Bus.Heartbeat(p.Name())
		}
	}

	// Step 3: bus view.
	busSnap := e.deps.Bus.Snapshot()

	// Step 4: equity refresh.
	state := e.deps.Capital.State()
	e.deps.Capital.UpdateEquity(state.Total, e.deps.Ledger.Unrealized())
	e.deps.Heat.SetCapital(state.Total)

	// Step 6: arbitrage scan (step 5's heat check happens inside decide,
	// where the candidate size is known).
	if opps := e.deps.Scanner.Scan(e.opts.Symbols); len(opps) > 0 {
		best := opps[0]
		e.log.Info().
			Str("symbol", best.Symbol).
			Str("buy", best.BuyVenue).
			Str("sell", best.SellVenue).
			Float64("net_pct", best.NetPct).
			Msg("arbitrage opportunity")
	}

	// Step 7: walk open positions against fresh prices.
	e.maintainPositions()

	// Step 8: decision fusion.
	decision := e.decide(candidate, snapErr == nil, snap, busSnap.Consensus)

	// Step 9: dispatch.
	if decision.Action != ActHold && !e.opts.Simulation {
		if err := e.dispatch(ctx, &decision, snap); err != nil {
			e.log.Warn().Err(err).Str("symbol", decision.Symbol).Msg("dispatch failed")
		}
	}

	e.finishCycle(decision)
	return nil
}

func (e *Engine) nextSymbol() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.opts.Symbols) == 0 {
		return ""
	}
	sym := e.opts.Symbols[e.rotation%len(e.opts.Symbols)]
	e.rotation++
	return sym
}

// maintainPositions pushes the freshest price into every open position and
// settles any that trigger TP, SL, or trailing stops. Triggered closes settle
// at the ledger's trigger price without an Executor round trip, which only
// holds for simulated fills.
// TODO: route triggered closes through dispatchClose before wiring a live
// executor.
func (e *Engine) maintainPositions() {
	for _, pos := range e.deps.Ledger.Positions() {
		snap, err := e.deps.Feed.Snapshot(pos.Symbol, e.opts.SnapshotTTL)
		if err != nil {
			continue // stale data never forces a close
		}
		closed, err := e.deps.Ledger.UpdatePrice(pos.Symbol, snap.Price)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("price update failed")
			continue
		}
		if closed != nil {
			e.settle(*closed)
		}
	}
}

// settle releases capital and heat for a closed position and feeds the
// learning provider.
func (e *Engine) settle(closed ledger.Closed) {
	e.deps.Capital.Release(closed.Symbol, closed.Realized)
	e.deps.Heat.Remove(closed.Symbol)
	if rec, ok := e.deps.Learn.(outcomeRecorder); ok {
		rec.RecordOutcome(closed.Realized)
	}
	e.log.Info().
		Str("symbol", closed.Symbol).
		Str("reason", string(closed.Reason)).
		Float64("realized", closed.Realized).
		Msg("position closed")
}

// decide fuses consensus, heat, capital, and the learned thresholds into one
// action. Gates run in fixed order; the first failure wins.
func (e *Engine) decide(symbol string, haveSnapshot bool, snap signal.MarketSnapshot, cons bus.Consensus) Decision {
	d := Decision{Action: ActHold, Symbol: symbol, At: e.now()}

	if !haveSnapshot {
		d.Reason = "no market snapshot"
		return d
	}
	if cons.Direction == signal.Neutral {
		d.Reason = fmt.Sprintf("consensus neutral (score %.3f)", cons.Score)
		return d
	}

	pos, hasPos := e.deps.Ledger.Get(symbol)
	// Consensus against the live position exits it: SELL flattens a long, BUY
	// covers a short. Entry gates do not apply to exits.
	closing := hasPos && ((cons.Direction == signal.Sell && pos.Side == ledger.Long) ||
		(cons.Direction == signal.Buy && pos.Side == ledger.Short))

	var size float64
	if !closing {
		// Gate 1: exposure limiter.
		suggestion := e.deps.Capital.PositionSize(cons.Confidence, snap.Volatility, e.tier(cons))
		heatCap := e.deps.Heat.SuggestedSize(symbol)
		if heatCap < e.opts.MinTradeUSD {
			v := e.deps.Heat.CanAdd(symbol, suggestion.Amount)
			d.Reason = "heat: " + v.Reason
			return d
		}
		// Gate 2: capital sufficiency.
		if suggestion.Amount <= 0 {
			d.Reason = "capital: " + suggestion.Reason
			return d
		}
		size = suggestion.Amount
		if heatCap < size {
			size = heatCap // clip to the exposure ceiling
		}
	}

	// Gate 3: consensus readiness.
	if !cons.Ready {
		d.Reason = fmt.Sprintf("not ready: %d/%d producers fresh", cons.Fresh, cons.Registered)
		return d
	}

	gates := e.deps.Learn.Thresholds()
	// Gate 4: coherence.
	if coh := e.meanCoherence(); coh < gates.MinCoherence {
		d.Reason = fmt.Sprintf("coherence %.2f below %.2f", coh, gates.MinCoherence)
		return d
	}
	// Gate 5: confidence.
	if cons.Confidence < gates.MinConfidence {
		d.Reason = fmt.Sprintf("confidence %.2f below %.2f", cons.Confidence, gates.MinConfidence)
		return d
	}
	// Gate 6: strict event window.
	if e.opts.StrictEvents && !closing && !e.eventFlagged() {
		d.Reason = "no event-flagged producer"
		return d
	}

	if cons.Direction == signal.Buy {
		if hasPos && !closing {
			d.Reason = "already long"
			return d
		}
		d.Action = ActBuy
	} else {
		if hasPos && !closing {
			d.Reason = "already short"
			return d
		}
		d.Action = ActSell
	}
	d.Size = size
	d.Confidence = cons.Confidence
	if closing {
		d.Reason = fmt.Sprintf("closing %s on %s consensus (score %.3f)", pos.Side, cons.Direction, cons.Score)
	} else {
		d.Reason = fmt.Sprintf("consensus %s score %.3f confidence %.2f", cons.Direction, cons.Score, cons.Confidence)
	}
	return d
}

// tier buckets consensus quality: strong agreement earns tier 1 (full size),
// weaker signals fall into smaller tiers.
func (e *Engine) tier(cons bus.Consensus) int {
	coh := e.meanCoherence()
	switch {
	case coh >= 0.8 && cons.Confidence >= 0.8:
		return 1
	case coh >= 0.6:
		return 2
	default:
		return 3
	}
}

// meanCoherence averages coherence across the current fresh, ready messages.
func (e *Engine) meanCoherence() float64 {
	snap := e.deps.Bus.Snapshot()
	var sum float64
	var n int
	for _, msg := range snap.Messages {
		if !msg.Ready {
			continue
		}
		sum += msg.Coherence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// eventFlagged reports whether any current message carries a positive "event"
// field, the strict-entry requirement.
func (e *Engine) eventFlagged() bool {
	snap := e.deps.Bus.Snapshot()
	for _, msg := range snap.Messages {
		if msg.Fields["event"] > 0 {
			return true
		}
	}
	return false
}

// dispatch sends the order and, only on confirmed success, mutates capital,
// heat, and the ledger. Any failure leaves all three untouched.
func (e *Engine) dispatch(ctx context.Context, d *Decision, snap signal.MarketSnapshot) error {
	if snap.Price <= 0 {
		return fmt.Errorf("no price for %s", d.Symbol)
	}

	if pos, ok := e.deps.Ledger.Get(d.Symbol); ok && exits(d.Action, pos.Side) {
		return e.dispatchClose(ctx, d, pos, snap.Price)
	}
	return e.dispatchOpen(ctx, d, snap.Price)
}

// exits reports whether the action flattens a position on the given side.
func exits(action Action, side ledger.Side) bool {
	return (action == ActSell && side == ledger.Long) ||
		(action == ActBuy && side == ledger.Short)
}

func (e *Engine) dispatchOpen(ctx context.Context, d *Decision, price float64) error {
	order := execution.Order{
		Symbol: d.Symbol,
		Venue:  e.opts.DefaultVenue,
		Side:   execution.Side(d.Action),
		Qty:    d.Size / price,
		Price:  price,
	}
	order, err := e.normalize(order)
	if err != nil {
		d.Action = ActHold
		d.Reason = "validation: " + err.Error()
		return err
	}

	res, err := e.deps.Executor.Execute(ctx, order)
	if err != nil {
		d.Action = ActHold
		d.Reason = "execution error: " + err.Error()
		return err
	}
	if !res.Success {
		d.Action = ActHold
		d.Reason = "execution rejected: " + res.Err
		return fmt.Errorf("order rejected: %s", res.Err)
	}

	notional := order.Qty * res.ExecutedPrice
	side := ledger.Long
	if d.Action == ActSell {
		side = ledger.Short
	}
	if !e.deps.Capital.Reserve(d.Symbol, notional) {
		// Fill confirmed but capital moved between gate and reserve; close
		// the exposure back out rather than run unreserved.
		e.log.Error().Str("symbol", d.Symbol).Msg("reserve failed after fill")
		return fmt.Errorf("reserve failed after fill")
	}
	e.deps.Heat.Add(d.Symbol, notional)
	risk := ledger.RiskSnapshot{
		KellyFraction: e.deps.Learn.KellyFraction(),
		PortfolioHeat: e.deps.Heat.Total(),
		Confidence:    d.Confidence,
	}
	if _, err := e.deps.Ledger.Open(d.Symbol, order.Venue, side, res.ExecutedPrice, order.Qty, risk); err != nil {
		e.deps.Capital.Release(d.Symbol, 0)
		e.deps.Heat.Remove(d.Symbol)
		return fmt.Errorf("ledger open: %w", err)
	}
	e.log.Info().
		Str("symbol", d.Symbol).
		Str("side", string(d.Action)).
		Float64("qty", order.Qty).
		Float64("price", res.ExecutedPrice).
		Msg("position opened")
	return nil
}

func (e *Engine) dispatchClose(ctx context.Context, d *Decision, pos ledger.Position, price float64) error {
	// The closing order opposes the position: sell to flatten a long, buy to
	// cover a short.
	side := execution.Sell
	if pos.Side == ledger.Short {
		side = execution.Buy
	}
	order := execution.Order{
		Symbol: d.Symbol,
		Venue:  pos.Venue,
		Side:   side,
		Qty:    pos.Quantity,
		Price:  price,
	}
	order, err := e.normalize(order)
	if err != nil {
		d.Reason = "validation: " + err.Error()
		return err
	}
	res, err := e.deps.Executor.Execute(ctx, order)
	if err != nil {
		d.Reason = "execution error: " + err.Error()
		return err
	}
	if !res.Success {
		d.Reason = "execution rejected: " + res.Err
		return fmt.Errorf("order rejected: %s", res.Err)
	}

	closed, err := e.deps.Ledger.Close(d.Symbol, res.ExecutedPrice, ledger.ReasonManual)
	if err != nil {
		return fmt.Errorf("ledger close: %w", err)
	}
	e.settle(closed)
	return nil
}

func (e *Engine) normalize(order execution.Order) (execution.Order, error) {
	if e.deps.Rules == nil {
		return order, nil
	}
	rules, err := e.deps.Rules.Rules(order.Symbol, order.Venue)
	if err != nil {
		return order, err
	}
	return execution.Normalize(order, rules)
}

// finishCycle records the decision and refreshes the exported gauges.
func (e *Engine) finishCycle(d Decision) {
	metrics.CyclesTotal.Inc()
	metrics.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()

	state := e.deps.Capital.State()
	metrics.EquityGauge.Set(state.Total)
	metrics.AvailableGauge.Set(state.Available)
	metrics.HarvestedGauge.Set(state.Harvested)
	metrics.HeatGauge.Set(e.deps.Heat.Total())
	metrics.OpenPositions.Set(float64(e.deps.Ledger.Count()))

	if e.deps.Store != nil {
		if err := e.deps.Store.SaveCapital(state); err != nil {
			e.log.Warn().Err(err).Msg("capital snapshot failed")
		}
	}

	e.mu.Lock()
	e.cycles++
	e.last = d
	e.mu.Unlock()

	e.log.Debug().
		Str("action", string(d.Action)).
		Str("symbol", d.Symbol).
		Str("reason", d.Reason).
		Msg("cycle complete")
}

// LastDecision returns the most recent cycle outcome.
func (e *Engine) LastDecision() Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Cycles returns the completed-cycle count.
func (e *Engine) Cycles() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycles
}

// Status is the ops-server view of the running engine.
type Status struct {
	Cycles    uint64            `json:"cycles"`
	Last      Decision          `json:"last_decision"`
	Capital   capital.State     `json:"capital"`
	Heat      []heat.Entry      `json:"heat"`
	HeatTotal float64           `json:"heat_total"`
	Positions []ledger.Position `json:"positions"`
	Consensus bus.Consensus     `json:"consensus"`
}

// Snapshot assembles the current status.
func (e *Engine) Snapshot() Status {
	return Status{
		Cycles:    e.Cycles(),
		Last:      e.LastDecision(),
		Capital:   e.deps.Capital.State(),
		Heat:      e.deps.Heat.Entries(),
		HeatTotal: e.deps.Heat.Total(),
		Positions: e.deps.Ledger.Positions(),
		Consensus: e.deps.Bus.Consensus(),
	}
}
