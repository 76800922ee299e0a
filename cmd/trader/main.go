package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/arb"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/bus"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/capital"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/config"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/engine"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/execution"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/feed"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/heat"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/learn"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/ledger"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/metrics"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/producer"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/server"
	sig "github.com/RA-CONSULTING/aureon-trading-sub000/internal/signal"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/store"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/util"
)

func main() {
	_ = godotenv.Load()
	log := util.NewLogger(util.Getenv("LOG_LEVEL", "info"))

	cfg, err := config.Load(util.Getenv("CONFIG_PATH", "internal/config/config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if cfg.App.LogLevel != "" {
		log = util.NewLogger(cfg.App.LogLevel)
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	// Persistence stack: sqlite + optional JSONL journal, writes decoupled
	// from the trading path.
	db, err := store.Open(cfg.Store.Path, util.Component(log, "store"))
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()

	var sinks store.Fanout
	sinks = append(sinks, db)
	if cfg.Store.JournalPath != "" {
		journal, err := store.NewJournal(cfg.Store.JournalPath)
		if err != nil {
			log.Fatal().Err(err).Msg("open journal")
		}
		defer journal.Close()
		sinks = append(sinks, journal)
	}
	async := store.NewAsyncSink(sinks, cfg.Store.QueueSize, util.Component(log, "store"))
	defer async.Flush()

	// Learning provider, optionally seeded from trade history.
	var provider learn.Provider
	gates := learn.Thresholds{MinCoherence: cfg.Learn.MinCoherence, MinConfidence: cfg.Learn.MinConfidence}
	if cfg.Learn.Mode == "history" {
		hist := learn.NewHistory(gates, cfg.Learn.MinSamples)
		if trades, err := db.RecentTrades(200); err == nil {
			for i := len(trades) - 1; i >= 0; i-- {
				hist.RecordOutcome(trades[i].Realized)
			}
		}
		provider = hist
	} else {
		provider = learn.Static{Kelly: cfg.Learn.KellyFraction, Gates: gates}
	}

	signalBus := bus.New(bus.Options{
		BuyThreshold:    cfg.Bus.BuyThreshold,
		SellThreshold:   cfg.Bus.SellThreshold,
		ReadinessRatio:  cfg.Bus.ReadinessRatio,
		Freshness:       time.Duration(cfg.Bus.FreshnessWindowMs) * time.Millisecond,
		LivenessTimeout: time.Duration(cfg.Bus.LivenessTimeoutMs) * time.Millisecond,
		Weights:         cfg.Bus.Weights,
	})
	allocator := capital.New(cfg.Capital.InitialEquity, capital.Options{
		MinReserveRatio:  cfg.Capital.MinReserveRatio,
		MaxPositionPct:   cfg.Capital.MaxPositionPct,
		TargetConfidence: cfg.Capital.TargetConfidence,
		VolatilityFloor:  cfg.Capital.VolatilityFloor,
		MinTradeUSD:      cfg.Capital.MinTradeUSD,
		MaxTradeUSD:      cfg.Capital.MaxTradeUSD,
		MaxPositions:     cfg.Capital.MaxPositions,
		HarvestRatio:     cfg.Capital.HarvestRatio,
		TierMultipliers:  cfg.Capital.TierMultipliers,
	}, provider)
	limiter := heat.New(cfg.Capital.InitialEquity, heatOptions(cfg))
	book := ledger.New(ledger.Options{
		MaxPositions:          cfg.Ledger.MaxPositions,
		TakeProfitPct:         cfg.Ledger.TakeProfitPct,
		StopLossPct:           cfg.Ledger.StopLossPct,
		TrailingActivationPct: cfg.Ledger.TrailingActivationPct,
		TrailingDistancePct:   cfg.Ledger.TrailingDistancePct,
	}, async, util.Component(log, "ledger"))
	scanner := arb.New(arb.Options{
		MinSpreadPct:  cfg.Arb.MinSpreadPct,
		ViabilityPct:  cfg.Arb.ViabilityPct,
		PriceTTL:      time.Duration(cfg.Arb.PriceTTLMs) * time.Millisecond,
		HistorySize:   cfg.Arb.HistorySize,
		VenueFees:     cfg.Arb.VenueFees,
		DefaultFeePct: cfg.Arb.DefaultFeePct,
	})

	builder := feed.NewBuilder(time.Duration(cfg.Feed.WindowSecs) * time.Second)
	ticks := make(chan sig.Tick, 1024)
	sched := engine.NewScheduler(log)
	startFeeds(ctx, cfg, sched, scanner, ticks, log, cancel)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tk := <-ticks:
				builder.Ingest(tk)
			}
		}
	}()

	producers := []producer.Producer{
		producer.NewMomentum(0.002, cfg.Feed.WindowSecs, 1_000),
		producer.NewRegime(0.15),
	}
	if cfg.Engine.StrictEvents {
		hours := parseHours(util.Getenv("EVENT_HOURS", "13,14,15"))
		producers = append(producers, producer.NewCalendar(hours))
	}

	eng := engine.New(engine.Options{
		Symbols:      cfg.Engine.Symbols,
		SnapshotTTL:  time.Duration(cfg.Engine.SnapshotTTLMs) * time.Millisecond,
		Simulation:   cfg.Engine.Simulation,
		StrictEvents: cfg.Engine.StrictEvents,
		DefaultVenue: cfg.Engine.DefaultVenue,
		MinTradeUSD:  cfg.Capital.MinTradeUSD,
	}, engine.Deps{
		Bus:       signalBus,
		Capital:   allocator,
		Heat:      limiter,
		Ledger:    book,
		Scanner:   scanner,
		Feed:      builder,
		Producers: producers,
		Executor:  execution.NewSimExecutor(util.Component(log, "execution"), 0.02),
		Rules:     defaultRules(),
		Learn:     provider,
		Store:     db,
	}, util.Component(log, "engine"))

	if err := eng.Restore(); err != nil {
		log.Fatal().Err(err).Msg("rehydrate state")
	}

	ops := server.New(cfg.App.StatusAddr, eng, util.Component(log, "server"))
	ops.Start()
	defer ops.Close()

	if err := sched.Add(cfg.Engine.CycleSchedule, engine.JobFunc{Label: "cycle", Fn: func() error {
		return eng.Cycle(ctx)
	}}); err != nil {
		log.Fatal().Err(err).Msg("schedule cycle")
	}
	sched.Start()
	defer sched.Stop()

	log.Info().
		Strs("symbols", cfg.Engine.Symbols).
		Bool("simulation", cfg.Engine.Simulation).
		Msg("trading engine started")
	<-ctx.Done()
	log.Info().Msg("shutting down")
}

func heatOptions(cfg *config.Config) heat.Options {
	opts := heat.Options{
		GlobalCap:    cfg.Heat.GlobalCap,
		DefaultGroup: cfg.Heat.DefaultGroup,
		SymbolGroups: make(map[string]string),
	}
	for _, g := range cfg.Heat.Groups {
		opts.Groups = append(opts.Groups, heat.Group{Name: g.Name, Multiplier: g.Multiplier, Cap: g.Cap})
		for _, sym := range g.Symbols {
			opts.SymbolGroups[sym] = g.Name
		}
	}
	return opts
}

// startFeeds launches the configured tick source and registers per-venue quote
// refresh jobs on the scheduler. A dead tick source cancels the whole process;
// quote pollers are best-effort.
func startFeeds(ctx context.Context, cfg *config.Config, sched *engine.Scheduler, scanner *arb.Scanner, ticks chan<- sig.Tick, log zerolog.Logger, cancel context.CancelFunc) {
	var source feed.Source
	switch cfg.Feed.Provider {
	case "binance":
		source = feed.NewBinance(cfg.Engine.Symbols, scanner, util.Component(log, "feed"))
	default:
		source = feed.NewStub(cfg.Engine.Symbols, time.Duration(cfg.Feed.PollIntervalMs)*time.Millisecond, scanner)
	}
	go func() {
		if err := source.Run(ctx, ticks); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("source", source.Name()).Msg("feed stopped")
			cancel()
		}
	}()

	for _, venue := range cfg.Feed.Venues {
		if venue.Provider != "http" {
			continue
		}
		q := feed.NewHTTPQuoter(venue.Name, venue.BaseURL, cfg.Engine.Symbols,
			time.Duration(cfg.Feed.PollIntervalMs)*time.Millisecond, scanner, util.Component(log, "feed"))
		go func() { _ = q.Poll(ctx) }() // warm the cache before the first tick
		if err := sched.Add(cfg.Engine.RefreshSchedule, engine.JobFunc{Label: "quotes:" + venue.Name, Fn: func() error {
			return q.Poll(ctx)
		}}); err != nil {
			log.Fatal().Err(err).Str("venue", venue.Name).Msg("schedule quote refresh")
		}
	}
}

func defaultRules() execution.RulesService {
	return execution.StaticRules{
		Default: execution.Rules{
			MinQty:      0.0001,
			MaxQty:      1_000_000,
			StepSize:    0.0001,
			TickSize:    0.01,
			MinNotional: 10,
		},
	}
}

func parseHours(raw string) []int {
	var hours []int
	for _, part := range strings.Split(raw, ",") {
		if h, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && h >= 0 && h < 24 {
			hours = append(hours, h)
		}
	}
	return hours
}
