package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
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
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/producer"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/signal"
)

type fakeProducer struct {
	name string
	msg  signal.Message
	err  error
}

func (f *fakeProducer) Name() string { return f.name }

func (f *fakeProducer) Emit(snap signal.MarketSnapshot) (signal.Message, error) {
	if f.err != nil {
		return signal.Message{}, f.err
	}
	m := f.msg
	m.Producer = f.name
	m.Symbol = snap.Symbol
	m.Ts = time.Now()
	return m, nil
}

type fakeExecutor struct {
	calls   atomic.Int64
	reject  bool
	failure error
	block   chan struct{}

	mu     sync.Mutex
	orders []execution.Order
}

func (f *fakeExecutor) Execute(_ context.Context, order execution.Order) (execution.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.orders = append(f.orders, order)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.failure != nil {
		return execution.Result{}, f.failure
	}
	if f.reject {
		return execution.Result{Success: false, Err: "insufficient margin"}, nil
	}
	return execution.Result{Success: true, OrderID: "ord-1", ExecutedPrice: order.Price}, nil
}

func (f *fakeExecutor) lastOrder() execution.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.orders) == 0 {
		return execution.Order{}
	}
	return f.orders[len(f.orders)-1]
}

func buyProducer(name string) *fakeProducer {
	return &fakeProducer{
		name: name,
		msg: signal.Message{
			Ready:      true,
			Coherence:  0.9,
			Confidence: 0.9,
			Direction:  signal.Buy,
		},
	}
}

func sellProducer(name string) *fakeProducer {
	p := buyProducer(name)
	p.msg.Direction = signal.Sell
	return p
}

type harness struct {
	engine   *Engine
	builder  *feed.Builder
	executor *fakeExecutor
	capital  *capital.Allocator
	heat     *heat.Limiter
	ledger   *ledger.Ledger
	bus      *bus.Bus
}

func newHarness(t *testing.T, mutate ...func(*Options, *Deps)) *harness {
	t.Helper()

	b := bus.New(bus.Options{
		BuyThreshold:   0.3,
		SellThreshold:  0.3,
		ReadinessRatio: 0.5,
		Freshness:      time.Minute,
	})
	provider := learn.Static{Kelly: 0.5, Gates: learn.Thresholds{MinCoherence: 0.5, MinConfidence: 0.5}}
	alloc := capital.New(10_000, capital.Options{
		MinReserveRatio: 0.1,
		MaxPositionPct:  0.5,
		MinTradeUSD:     10,
		MaxTradeUSD:     5_000,
		MaxPositions:    5,
		HarvestRatio:    0.1,
	}, provider)
	limiter := heat.New(10_000, heat.Options{
		GlobalCap:    0.9,
		DefaultGroup: "misc",
		Groups:       []heat.Group{{Name: "misc", Multiplier: 1.0, Cap: 0.5}},
	})
	book := ledger.New(ledger.Options{
		MaxPositions:          5,
		TakeProfitPct:         0.05,
		StopLossPct:           0.03,
		TrailingActivationPct: 0.02,
		TrailingDistancePct:   0.01,
	}, nil, zerolog.Nop())
	scanner := arb.New(arb.Options{MinSpreadPct: 0.1, ViabilityPct: 0.05, PriceTTL: time.Minute})
	builder := feed.NewBuilder(time.Minute)
	exec := &fakeExecutor{}

	opts := Options{
		Symbols:      []string{"BTCUSDT"},
		SnapshotTTL:  time.Minute,
		DefaultVenue: "binance",
		MinTradeUSD:  10,
	}
	deps := Deps{
		Bus:       b,
		Capital:   alloc,
		Heat:      limiter,
		Ledger:    book,
		Scanner:   scanner,
		Feed:      builder,
		Producers: []producer.Producer{buyProducer("momentum")},
		Executor:  exec,
		Learn:     provider,
	}
	for _, m := range mutate {
		m(&opts, &deps)
	}

	eng := New(opts, deps, zerolog.Nop())
	return &harness{
		engine:   eng,
		builder:  builder,
		executor: exec,
		capital:  alloc,
		heat:     limiter,
		ledger:   book,
		bus:      b,
	}
}

func (h *harness) feedPrices(symbol string, prices ...float64) {
	now := time.Now()
	for i, px := range prices {
		h.builder.Ingest(signal.Tick{
			Symbol: symbol,
			Venue:  "binance",
			Price:  px,
			Size:   1,
			Side:   1,
			Ts:     now.Add(time.Duration(i-len(prices)) * time.Second),
		})
	}
}

func TestCycleBuysOnStrongConsensus(t *testing.T) {
	h := newHarness(t)
	h.feedPrices("BTCUSDT", 100, 100.2, 100.5)

	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	d := h.engine.LastDecision()
	if d.Action != ActBuy {
		t.Fatalf("expected BUY, got %s (%s)", d.Action, d.Reason)
	}
	if d.Size <= 0 {
		t.Fatalf("BUY decision carries no size")
	}
	if h.executor.calls.Load() != 1 {
		t.Fatalf("expected one execution, got %d", h.executor.calls.Load())
	}
	pos, ok := h.ledger.Get("BTCUSDT")
	if !ok {
		t.Fatal("position not opened after confirmed fill")
	}
	if pos.Side != ledger.Long {
		t.Fatalf("expected long position, got %s", pos.Side)
	}
	if h.capital.Reserved("BTCUSDT") <= 0 {
		t.Fatal("capital not reserved after fill")
	}
	if h.heat.Total() <= 0 {
		t.Fatal("heat not added after fill")
	}
}

func TestCycleHoldsWithoutSnapshot(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	d := h.engine.LastDecision()
	if d.Action != ActHold {
		t.Fatalf("expected HOLD without market data, got %s", d.Action)
	}
	if d.Reason != "no market snapshot" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
	if h.executor.calls.Load() != 0 {
		t.Fatal("dispatched without market data")
	}
}

func TestHeatGateBlocksFirst(t *testing.T) {
	h := newHarness(t)
	h.feedPrices("BTCUSDT", 100, 100.2, 100.5)
	// Saturate the shared group so no candidate size is compliant.
	h.heat.Add("ETHUSDT", 5_000)

	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	d := h.engine.LastDecision()
	if d.Action != ActHold {
		t.Fatalf("expected HOLD, got %s", d.Action)
	}
	if len(d.Reason) < 5 || d.Reason[:5] != "heat:" {
		t.Fatalf("expected heat gate to fail first, got %q", d.Reason)
	}
}

func TestCapitalGateBlocks(t *testing.T) {
	h := newHarness(t, func(opts *Options, deps *Deps) {
		deps.Capital = capital.New(10_000, capital.Options{
			MinReserveRatio: 0.1,
			MaxPositionPct:  0.5,
			MinTradeUSD:     20_000, // unreachable
			MaxTradeUSD:     50_000,
			MaxPositions:    5,
		}, deps.Learn)
	})
	h.feedPrices("BTCUSDT", 100, 100.2, 100.5)

	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	d := h.engine.LastDecision()
	if d.Action != ActHold {
		t.Fatalf("expected HOLD, got %s", d.Action)
	}
	if len(d.Reason) < 8 || d.Reason[:8] != "capital:" {
		t.Fatalf("expected capital gate failure, got %q", d.Reason)
	}
}

func TestReadinessGateBlocks(t *testing.T) {
	h := newHarness(t, func(opts *Options, deps *Deps) {
		// A second registered producer that always errors keeps the fresh
		// ratio at 1/2, below the 0.9 requirement.
		deps.Producers = append(deps.Producers, &fakeProducer{name: "regime", err: errors.New("nan input")})
		deps.Bus = bus.New(bus.Options{
			BuyThreshold:   0.3,
			SellThreshold:  0.3,
			ReadinessRatio: 0.9,
			Freshness:      time.Minute,
		})
	})
	h.feedPrices("BTCUSDT", 100, 100.2, 100.5)

	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	d := h.engine.LastDecision()
	if d.Action != ActHold {
		t.Fatalf("expected HOLD, got %s", d.Action)
	}
}

func TestConfidenceGateBlocks(t *testing.T) {
	h := newHarness(t, func(opts *Options, deps *Deps) {
		deps.Learn = learn.Static{Kelly: 0.5, Gates: learn.Thresholds{MinCoherence: 0.5, MinConfidence: 0.95}}
		deps.Capital = capital.New(10_000, capital.Options{
			MinReserveRatio: 0.1,
			MaxPositionPct:  0.5,
			MinTradeUSD:     10,
			MaxTradeUSD:     5_000,
			MaxPositions:    5,
		}, deps.Learn)
	})
	h.feedPrices("BTCUSDT", 100, 100.2, 100.5)

	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	d := h.engine.LastDecision()
	if d.Action != ActHold {
		t.Fatalf("expected HOLD on low confidence, got %s", d.Action)
	}
}

func TestStrictEventGate(t *testing.T) {
	h := newHarness(t, func(opts *Options, deps *Deps) {
		opts.StrictEvents = true
	})
	h.feedPrices("BTCUSDT", 100, 100.2, 100.5)

	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if d := h.engine.LastDecision(); d.Action != ActHold {
		t.Fatalf("expected HOLD without event flag, got %s", d.Action)
	}

	// An event-flagged producer opens the window.
	h2 := newHarness(t, func(opts *Options, deps *Deps) {
		opts.StrictEvents = true
		p := buyProducer("momentum")
		p.msg.Fields = map[string]float64{"event": 1}
		deps.Producers = []producer.Producer{p}
	})
	h2.feedPrices("BTCUSDT", 100, 100.2, 100.5)
	if err := h2.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if d := h2.engine.LastDecision(); d.Action != ActBuy {
		t.Fatalf("expected BUY inside event window, got %s (%s)", d.Action, d.Reason)
	}
}

func TestExecutionRejectionMutatesNothing(t *testing.T) {
	h := newHarness(t)
	h.executor.reject = true
	h.feedPrices("BTCUSDT", 100, 100.2, 100.5)

	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	d := h.engine.LastDecision()
	if d.Action != ActHold {
		t.Fatalf("rejected order must surface as HOLD, got %s", d.Action)
	}
	if h.ledger.Count() != 0 {
		t.Fatal("position opened despite rejection")
	}
	if h.capital.Reserved("BTCUSDT") != 0 {
		t.Fatal("capital reserved despite rejection")
	}
	if h.heat.Total() != 0 {
		t.Fatal("heat added despite rejection")
	}
}

func TestSimulationNeverDispatches(t *testing.T) {
	h := newHarness(t, func(opts *Options, deps *Deps) {
		opts.Simulation = true
	})
	h.feedPrices("BTCUSDT", 100, 100.2, 100.5)

	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if d := h.engine.LastDecision(); d.Action != ActBuy {
		t.Fatalf("simulation still decides, got %s (%s)", d.Action, d.Reason)
	}
	if h.executor.calls.Load() != 0 {
		t.Fatal("simulation mode dispatched an order")
	}
	if h.ledger.Count() != 0 {
		t.Fatal("simulation mode mutated the ledger")
	}
}

func TestCycleNonReentrant(t *testing.T) {
	h := newHarness(t)
	h.executor.block = make(chan struct{})
	h.feedPrices("BTCUSDT", 100, 100.2, 100.5)

	done := make(chan struct{})
	go func() {
		_ = h.engine.Cycle(context.Background())
		close(done)
	}()

	// Wait until the first cycle is parked inside the executor.
	deadline := time.After(2 * time.Second)
	for h.executor.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle never reached the executor")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// The overlapping tick must return immediately without trading.
	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("overlapping cycle errored: %v", err)
	}
	if h.executor.calls.Load() != 1 {
		t.Fatal("overlapping cycle dispatched")
	}

	close(h.executor.block)
	<-done
	if h.engine.Cycles() != 1 {
		t.Fatalf("expected exactly one completed cycle, got %d", h.engine.Cycles())
	}
}

func TestCycleSettlesTriggeredPositions(t *testing.T) {
	h := newHarness(t, func(opts *Options, deps *Deps) {
		// Neutral producer so the cycle only maintains positions.
		deps.Producers = []producer.Producer{&fakeProducer{
			name: "momentum",
			msg:  signal.Message{Ready: true, Coherence: 0.9, Confidence: 0.5, Direction: signal.Neutral},
		}}
	})

	if _, err := h.ledger.Open("BTCUSDT", "binance", ledger.Long, 100, 10, ledger.RiskSnapshot{}); err != nil {
		t.Fatalf("open: %v", err)
	}
	h.capital.Reserve("BTCUSDT", 1_000)
	h.heat.Add("BTCUSDT", 1_000)
	before := h.capital.State()

	// Price sails through the 5% take-profit.
	h.feedPrices("BTCUSDT", 105.5, 105.8, 106)
	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if h.ledger.Count() != 0 {
		t.Fatal("triggered position not closed")
	}
	if h.heat.Total() != 0 {
		t.Fatal("heat not released on close")
	}
	after := h.capital.State()
	if after.Harvested <= before.Harvested {
		t.Fatal("profit close did not harvest")
	}
	if h.capital.Reserved("BTCUSDT") != 0 {
		t.Fatal("reservation not released")
	}
}

func TestShortLifecycleCoversOnBuyConsensus(t *testing.T) {
	p := sellProducer("momentum")
	h := newHarness(t, func(opts *Options, deps *Deps) {
		deps.Producers = []producer.Producer{p}
	})
	h.feedPrices("BTCUSDT", 100, 99.8, 99.5)

	// SELL consensus with no live position opens a short.
	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if d := h.engine.LastDecision(); d.Action != ActSell {
		t.Fatalf("expected SELL entry, got %s (%s)", d.Action, d.Reason)
	}
	pos, ok := h.ledger.Get("BTCUSDT")
	if !ok {
		t.Fatal("short position not opened")
	}
	if pos.Side != ledger.Short {
		t.Fatalf("expected short position, got %s", pos.Side)
	}
	if got := h.executor.lastOrder().Side; got != execution.Sell {
		t.Fatalf("short entry must sell at the venue, sent %s", got)
	}

	// A second SELL while short holds instead of stacking the position.
	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if d := h.engine.LastDecision(); d.Action != ActHold || d.Reason != "already short" {
		t.Fatalf("expected HOLD already short, got %s (%s)", d.Action, d.Reason)
	}

	// BUY consensus against the short covers it: the venue order is a BUY for
	// the full quantity and local state flattens.
	p.msg.Direction = signal.Buy
	h.feedPrices("BTCUSDT", 99.4, 99.3)
	if err := h.engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	d := h.engine.LastDecision()
	if d.Action != ActBuy {
		t.Fatalf("expected BUY cover, got %s (%s)", d.Action, d.Reason)
	}
	if !strings.Contains(d.Reason, "closing") {
		t.Fatalf("cover decision should read as a close, got %q", d.Reason)
	}
	cover := h.executor.lastOrder()
	if cover.Side != execution.Buy {
		t.Fatalf("covering a short must buy at the venue, sent %s", cover.Side)
	}
	if cover.Qty != pos.Quantity {
		t.Fatalf("cover qty %v does not flatten position qty %v", cover.Qty, pos.Quantity)
	}
	if h.ledger.Count() != 0 {
		t.Fatal("short still live after cover")
	}
	if h.capital.Reserved("BTCUSDT") != 0 {
		t.Fatal("reservation not released on cover")
	}
	if h.heat.Total() != 0 {
		t.Fatal("heat not released on cover")
	}
}

type fakeStore struct {
	positions []ledger.Position
	capitals  []capital.State
	last      *capital.State
}

func (f *fakeStore) LoadOpenPositions() ([]ledger.Position, error) { return f.positions, nil }

func (f *fakeStore) LastCapital() (capital.State, bool, error) {
	if f.last == nil {
		return capital.State{}, false, nil
	}
	return *f.last, true, nil
}

func (f *fakeStore) SaveCapital(state capital.State) error {
	f.capitals = append(f.capitals, state)
	return nil
}

func TestRestoreRehydrates(t *testing.T) {
	st := &fakeStore{
		positions: []ledger.Position{{
			ID:         "p1",
			Symbol:     "BTCUSDT",
			Venue:      "binance",
			Side:       ledger.Long,
			EntryPrice: 100,
			Quantity:   10,
			Notional:   1_000,
			TakeProfit: 105,
			StopLoss:   97,
			OpenedAt:   time.Now().Add(-time.Hour),
		}},
		last: &capital.State{Total: 12_000},
	}
	h := newHarness(t, func(opts *Options, deps *Deps) {
		deps.Store = st
	})

	if err := h.engine.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if h.ledger.Count() != 1 {
		t.Fatal("position not rehydrated")
	}
	if h.capital.Reserved("BTCUSDT") != 1_000 {
		t.Fatal("reservation not rebuilt")
	}
	if h.heat.Total() <= 0 {
		t.Fatal("heat not rebuilt")
	}
	if got := h.capital.State().Total; got != 12_000 {
		t.Fatalf("capital snapshot not applied, total %v", got)
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	var ran atomic.Int64
	// cron rounds @every delays below one second up to 1s, so schedule at the
	// floor and poll for the first firing.
	err := s.Add("@every 1s", JobFunc{Label: "tick", Fn: func() error {
		ran.Add(1)
		return nil
	}})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if err := s.Add("not a schedule", JobFunc{Label: "bad", Fn: func() error { return nil }}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	s.Start()
	defer s.Stop()
	deadline := time.After(3 * time.Second)
	for ran.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduled job never ran")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
