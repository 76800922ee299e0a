package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
app:
  name: aureon
  env: test
  metrics_addr: ":9091"
  log_level: debug
engine:
  symbols: ["BTCUSDT", "ETHUSDT"]
  simulation: true
bus:
  buy_threshold: 0.35
  readiness_ratio: 0.6
  weights:
    momentum: 1.5
capital:
  initial_equity: 10000
  min_reserve_ratio: 0.2
  max_position_pct: 0.1
  min_trade_usd: 25
  max_trade_usd: 500
  max_positions: 5
  harvest_ratio: 0.1
heat:
  global_cap: 0.9
  default_group: other
  groups:
    - name: major
      multiplier: 1.0
      cap: 0.5
      symbols: ["BTCUSDT", "ETHUSDT"]
    - name: other
      multiplier: 1.2
      cap: 0.3
ledger:
  take_profit_pct: 0.05
  stop_loss_pct: 0.03
  trailing_activation_pct: 0.02
  trailing_distance_pct: 0.01
arb:
  min_spread_pct: 0.3
  viability_pct: 0.1
  venue_fees:
    binance: 0.1
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadPopulatesAndDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Name != "aureon" {
		t.Fatalf("app name mismatch: %q", cfg.App.Name)
	}
	if len(cfg.Engine.Symbols) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(cfg.Engine.Symbols))
	}
	if cfg.Bus.Weights["momentum"] != 1.5 {
		t.Fatalf("bus weight mismatch")
	}
	if cfg.Engine.CycleSchedule != "@every 5s" {
		t.Fatalf("cycle schedule default missing: %q", cfg.Engine.CycleSchedule)
	}
	if cfg.Ledger.MaxPositions != 5 {
		t.Fatalf("ledger max positions should default from capital, got %d", cfg.Ledger.MaxPositions)
	}
	if len(cfg.Capital.TierMultipliers) != 3 {
		t.Fatalf("tier multipliers default missing")
	}
}

func TestLoadRejectsGroupCapAboveGlobal(t *testing.T) {
	bad := sampleYAML + `
`
	cfg, err := Load(writeTemp(t, bad))
	if err != nil {
		t.Fatalf("baseline should load: %v", err)
	}
	cfg.Heat.Groups[0].Cap = 2.0
	path := writeTemp(t, "")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected group cap validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Capital.HarvestRatio != cfg.Capital.HarvestRatio {
		t.Fatalf("harvest ratio did not round trip")
	}
}
