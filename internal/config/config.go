// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	StatusAddr  string `yaml:"status_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Engine drives the orchestrator cadence and trading mode.
type Engine struct {
	Symbols         []string `yaml:"symbols"`
	CycleSchedule   string   `yaml:"cycle_schedule"`    // cron spec, e.g. "@every 5s"
	RefreshSchedule string   `yaml:"refresh_schedule"`  // venue quote refresh cadence
	SnapshotTTLMs   int      `yaml:"snapshot_ttl_ms"`   // market snapshot staleness bound
	Simulation      bool     `yaml:"simulation"`        // never dispatch real orders when true
	StrictEvents    bool     `yaml:"strict_events"`     // require an event-flagged producer before entering
	DefaultVenue    string   `yaml:"default_venue"`
}

// Bus tunes consensus fusion and producer liveness.
type Bus struct {
	BuyThreshold      float64            `yaml:"buy_threshold"`
	SellThreshold     float64            `yaml:"sell_threshold"` // positive magnitude; applied negated
	ReadinessRatio    float64            `yaml:"readiness_ratio"`
	FreshnessWindowMs int                `yaml:"freshness_window_ms"`
	LivenessTimeoutMs int                `yaml:"liveness_timeout_ms"`
	Weights           map[string]float64 `yaml:"weights"` // per-producer; absent producers weigh 1.0
}

// Capital encodes equity partitioning and Kelly-style position sizing.
type Capital struct {
	InitialEquity    float64   `yaml:"initial_equity"`
	MinReserveRatio  float64   `yaml:"min_reserve_ratio"`
	MaxPositionPct   float64   `yaml:"max_position_pct"`
	TargetConfidence float64   `yaml:"target_confidence"`
	VolatilityFloor  float64   `yaml:"volatility_floor"`
	MinTradeUSD      float64   `yaml:"min_trade_usd"`
	MaxTradeUSD      float64   `yaml:"max_trade_usd"`
	MaxPositions     int       `yaml:"max_positions"`
	HarvestRatio     float64   `yaml:"harvest_ratio"`
	TierMultipliers  []float64 `yaml:"tier_multipliers"` // index 0 = tier 1
}

// HeatGroup is one correlation bucket with its own cap and multiplier.
type HeatGroup struct {
	Name       string   `yaml:"name"`
	Multiplier float64  `yaml:"multiplier"`
	Cap        float64  `yaml:"cap"`
	Symbols    []string `yaml:"symbols"`
}

// Heat bounds portfolio concentration.
type Heat struct {
	GlobalCap    float64     `yaml:"global_cap"`
	DefaultGroup string      `yaml:"default_group"`
	Groups       []HeatGroup `yaml:"groups"`
}

// Ledger holds protective-level offsets for opened positions.
type Ledger struct {
	MaxPositions          int     `yaml:"max_positions"`
	TakeProfitPct         float64 `yaml:"take_profit_pct"`
	StopLossPct           float64 `yaml:"stop_loss_pct"`
	TrailingActivationPct float64 `yaml:"trailing_activation_pct"`
	TrailingDistancePct   float64 `yaml:"trailing_distance_pct"`
}

// Arb tunes the cross-venue spread scanner.
type Arb struct {
	MinSpreadPct   float64            `yaml:"min_spread_pct"`
	ViabilityPct   float64            `yaml:"viability_pct"`
	PriceTTLMs     int                `yaml:"price_ttl_ms"`
	HistorySize    int                `yaml:"history_size"`
	VenueFees      map[string]float64 `yaml:"venue_fees"` // taker fee pct per venue
	DefaultFeePct  float64            `yaml:"default_fee_pct"`
}

// FeedVenue describes one quote source wired into the scanner.
type FeedVenue struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // stub | binance | http
	BaseURL  string `yaml:"base_url"`
}

// Feed describes market data connectivity.
type Feed struct {
	Provider       string      `yaml:"provider"` // snapshot source: stub | binance
	PollIntervalMs int         `yaml:"poll_interval_ms"`
	WindowSecs     int         `yaml:"window_secs"` // rolling stats window for volatility/momentum
	Venues         []FeedVenue `yaml:"venues"`
}

// Store configures persistence sinks.
type Store struct {
	Path        string `yaml:"path"`         // sqlite database file
	JournalPath string `yaml:"journal_path"` // JSONL trade journal, empty disables
	QueueSize   int    `yaml:"queue_size"`   // async writer backlog
}

// Learn configures the polled Kelly/threshold provider.
type Learn struct {
	Mode          string  `yaml:"mode"` // static | history
	KellyFraction float64 `yaml:"kelly_fraction"`
	MinCoherence  float64 `yaml:"min_coherence"`
	MinConfidence float64 `yaml:"min_confidence"`
	MinSamples    int     `yaml:"min_samples"` // history mode: trades required before trusting the estimate
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App     App     `yaml:"app"`
	Engine  Engine  `yaml:"engine"`
	Bus     Bus     `yaml:"bus"`
	Capital Capital `yaml:"capital"`
	Heat    Heat    `yaml:"heat"`
	Ledger  Ledger  `yaml:"ledger"`
	Arb     Arb     `yaml:"arb"`
	Feed    Feed    `yaml:"feed"`
	Store   Store   `yaml:"store"`
	Learn   Learn   `yaml:"learn"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Engine.CycleSchedule == "" {
		c.Engine.CycleSchedule = "@every 5s"
	}
	if c.Engine.RefreshSchedule == "" {
		c.Engine.RefreshSchedule = "@every 2s"
	}
	if c.Engine.SnapshotTTLMs <= 0 {
		c.Engine.SnapshotTTLMs = 10_000
	}
	if c.Bus.BuyThreshold <= 0 {
		c.Bus.BuyThreshold = 0.3
	}
	if c.Bus.SellThreshold <= 0 {
		c.Bus.SellThreshold = 0.3
	}
	if c.Bus.ReadinessRatio <= 0 {
		c.Bus.ReadinessRatio = 0.5
	}
	if c.Bus.FreshnessWindowMs <= 0 {
		c.Bus.FreshnessWindowMs = 30_000
	}
	if c.Bus.LivenessTimeoutMs <= 0 {
		c.Bus.LivenessTimeoutMs = 60_000
	}
	if c.Capital.TargetConfidence <= 0 {
		c.Capital.TargetConfidence = 0.8
	}
	if c.Capital.VolatilityFloor <= 0 {
		c.Capital.VolatilityFloor = 0.25
	}
	if len(c.Capital.TierMultipliers) == 0 {
		c.Capital.TierMultipliers = []float64{1.0, 0.6, 0.35}
	}
	if c.Ledger.MaxPositions <= 0 {
		c.Ledger.MaxPositions = c.Capital.MaxPositions
	}
	if c.Arb.PriceTTLMs <= 0 {
		c.Arb.PriceTTLMs = 5_000
	}
	if c.Arb.HistorySize <= 0 {
		c.Arb.HistorySize = 64
	}
	if c.Feed.WindowSecs <= 0 {
		c.Feed.WindowSecs = 120
	}
	if c.Store.QueueSize <= 0 {
		c.Store.QueueSize = 256
	}
	if c.Learn.Mode == "" {
		c.Learn.Mode = "static"
	}
	if c.Learn.KellyFraction <= 0 {
		c.Learn.KellyFraction = 0.5
	}
	if c.Learn.MinSamples <= 0 {
		c.Learn.MinSamples = 10
	}
}

func (c *Config) validate() error {
	if c.Capital.MinReserveRatio < 0 || c.Capital.MinReserveRatio >= 1 {
		return fmt.Errorf("capital.min_reserve_ratio must be in [0,1): %v", c.Capital.MinReserveRatio)
	}
	if c.Capital.HarvestRatio < 0 || c.Capital.HarvestRatio > 1 {
		return fmt.Errorf("capital.harvest_ratio must be in [0,1]: %v", c.Capital.HarvestRatio)
	}
	for _, g := range c.Heat.Groups {
		if c.Heat.GlobalCap > 0 && g.Cap > c.Heat.GlobalCap {
			return fmt.Errorf("heat group %s cap %v exceeds global cap %v", g.Name, g.Cap, c.Heat.GlobalCap)
		}
	}
	if c.Ledger.TakeProfitPct < 0 || c.Ledger.StopLossPct < 0 {
		return fmt.Errorf("ledger protective offsets must be non-negative")
	}
	return nil
}
