package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `
dry_run: false
mode: backtest
venues:
  - exchange: binance
symbols:
  - "BTC/USDT"
risk:
  min_margin_ratio: 0.1
  max_daily_drawdown: 0.05
backtest:
  starting_balance: 10000
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAndValidateMinimalConfig(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Mode != "backtest" {
		t.Errorf("Mode = %q, want backtest", cfg.Mode)
	}
	if len(cfg.Venues) != 1 || cfg.Venues[0].Exchange != "binance" {
		t.Errorf("Venues = %+v, want one binance venue", cfg.Venues)
	}
}

func TestLoadAppliesVenueCredentialEnvOverrides(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	t.Setenv("PERPX_BINANCE_API_KEY", "env-key")
	t.Setenv("PERPX_BINANCE_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Venues[0].ApiKey != "env-key" {
		t.Errorf("ApiKey = %q, want env-key", cfg.Venues[0].ApiKey)
	}
	if cfg.Venues[0].Secret != "env-secret" {
		t.Errorf("Secret = %q, want env-secret", cfg.Venues[0].Secret)
	}
}

func TestLoadAppliesDryRunEnvOverride(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	t.Setenv("PERPX_DRY_RUN", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DryRun {
		t.Error("DryRun = false, want true after PERPX_DRY_RUN=true")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	c := Config{
		Mode:    "paper",
		Venues:  []VenueConfig{{Exchange: "binance"}},
		Symbols: []string{"BTC/USDT"},
		Risk:    RiskConfig{MinMarginRatio: 0.1, MaxDailyDrawdown: 0.05},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() succeeded with an unknown mode")
	}
}

func TestValidateRequiresAtLeastOneVenue(t *testing.T) {
	c := Config{
		Mode:    "backtest",
		Symbols: []string{"BTC/USDT"},
		Risk:    RiskConfig{MinMarginRatio: 0.1, MaxDailyDrawdown: 0.05},
		Backtest: BacktestConfig{StartingBalance: 1000},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() succeeded with no venues")
	}
}

func TestValidateRejectsUnknownExchange(t *testing.T) {
	c := Config{
		Mode:    "backtest",
		Venues:  []VenueConfig{{Exchange: "coinbase"}},
		Symbols: []string{"BTC/USDT"},
		Risk:    RiskConfig{MinMarginRatio: 0.1, MaxDailyDrawdown: 0.05},
		Backtest: BacktestConfig{StartingBalance: 1000},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() succeeded with an unsupported exchange")
	}
}

func TestValidateRequiresWSURLInLiveMode(t *testing.T) {
	c := Config{
		Mode:    "live",
		Venues:  []VenueConfig{{Exchange: "binance"}},
		Symbols: []string{"BTC/USDT"},
		Risk:    RiskConfig{MinMarginRatio: 0.1, MaxDailyDrawdown: 0.05},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() succeeded without ws_url in live mode")
	}
}

func TestValidateRequiresPositiveStartingBalanceInBacktestMode(t *testing.T) {
	c := Config{
		Mode:    "backtest",
		Venues:  []VenueConfig{{Exchange: "binance"}},
		Symbols: []string{"BTC/USDT"},
		Risk:    RiskConfig{MinMarginRatio: 0.1, MaxDailyDrawdown: 0.05},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() succeeded with zero backtest starting balance")
	}
}
