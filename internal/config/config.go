// Package config defines all configuration for the trading engine. Config
// is loaded from a YAML file (default: configs/config.yaml) with sensitive
// fields overridable via PERPX_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Mode       string           `mapstructure:"mode"` // "live" or "backtest"
	Venues     []VenueConfig    `mapstructure:"venues"`
	Symbols    []string         `mapstructure:"symbols"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Sizing     SizingConfig     `mapstructure:"sizing"`
	Margin     MarginConfig     `mapstructure:"margin"`
	Inventory  InventoryConfig  `mapstructure:"inventory"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
}

// VenueConfig holds one exchange's API credentials and endpoints. ApiKey/
// Secret are never logged and may be supplied purely via env var overrides.
type VenueConfig struct {
	Exchange    string `mapstructure:"exchange"` // "binance" | "bybit" | "okx"
	WSURL       string `mapstructure:"ws_url"`
	RESTBaseURL string `mapstructure:"rest_base_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"` // OKX only
}

// StrategyConfig tunes the arbitrage strategy (C18).
//
//   - MinSpreadToHold: funding spread floor below which an open position is closed.
//   - RiskFree: annualized risk-free rate used in the daily Sharpe calculation.
//   - TickInterval: how often the strategy re-evaluates every configured symbol.
type StrategyConfig struct {
	MinSpreadToHold float64       `mapstructure:"min_spread_to_hold"`
	RiskFree        float64       `mapstructure:"risk_free"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
}

// RiskConfig sets hard limits the risk manager (C17) enforces.
type RiskConfig struct {
	CooldownPeriod     time.Duration `mapstructure:"cooldown_period"`
	MinMarginRatio     float64       `mapstructure:"min_margin_ratio"`
	MaxPositionRatio   float64       `mapstructure:"max_position_ratio"`
	BTCCrashWindow     time.Duration `mapstructure:"btc_crash_window"`
	BTCCrashThreshold  float64       `mapstructure:"btc_crash_threshold"`
	AltcoinReduceRatio float64       `mapstructure:"altcoin_reduce_ratio"`
	MaxDailyDrawdown   float64       `mapstructure:"max_daily_drawdown"`
}

// ExecutorConfig tunes the order executor (C16).
type ExecutorConfig struct {
	MaxParallelOrders int           `mapstructure:"max_parallel_orders"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RateLimitWait     time.Duration `mapstructure:"rate_limit_wait"`
	SelfTradeDistance float64       `mapstructure:"self_trade_distance"`
}

// MarketDataConfig tunes the market data engine (C11).
type MarketDataConfig struct {
	StatsSampleInterval time.Duration `mapstructure:"stats_sample_interval"`
}

// SizingConfig tunes the position sizer (C14).
type SizingConfig struct {
	KellyFraction float64 `mapstructure:"kelly_fraction"`
	VolFloor      float64 `mapstructure:"vol_floor"`
	VolCeil       float64 `mapstructure:"vol_ceil"`
}

// MarginConfig controls the simulated broker's margin model (C5): whether
// positions are opened against posted margin (notional/leverage) rather than
// full notional, and the default leverage applied when a fill doesn't carry
// its own.
type MarginConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	DefaultLeverage float64 `mapstructure:"default_leverage"`
}

// InventoryConfig tunes the inventory manager (C13).
type InventoryConfig struct {
	RebalanceThreshold float64       `mapstructure:"rebalance_threshold"`
	RebalanceCooldown  time.Duration `mapstructure:"rebalance_cooldown"`
}

// BacktestConfig controls backtest-mode replay (C3/C4/C8).
type BacktestConfig struct {
	DataSourceDSN   string    `mapstructure:"data_source_dsn"`
	StartTime       time.Time `mapstructure:"start_time"`
	EndTime         time.Time `mapstructure:"end_time"`
	StartingBalance float64   `mapstructure:"starting_balance"`
	MakerFeeBps     float64   `mapstructure:"maker_fee_bps"`
	TakerFeeBps     float64   `mapstructure:"taker_fee_bps"`
	SlippageBps     float64   `mapstructure:"slippage_bps"`
}

// StoreConfig sets where position/account snapshots are persisted (an
// embedded SQLite database, engine.db, inside DataDir).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: PERPX_<EXCHANGE>_API_KEY, PERPX_<EXCHANGE>_SECRET,
// PERPX_<EXCHANGE>_PASSPHRASE (exchange name uppercased, e.g. PERPX_BINANCE_API_KEY).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PERPX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for i := range cfg.Venues {
		venue := &cfg.Venues[i]
		prefix := "PERPX_" + strings.ToUpper(venue.Exchange) + "_"
		if key := os.Getenv(prefix + "API_KEY"); key != "" {
			venue.ApiKey = key
		}
		if secret := os.Getenv(prefix + "SECRET"); secret != "" {
			venue.Secret = secret
		}
		if pass := os.Getenv(prefix + "PASSPHRASE"); pass != "" {
			venue.Passphrase = pass
		}
	}
	if os.Getenv("PERPX_DRY_RUN") == "true" || os.Getenv("PERPX_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Mode != "live" && c.Mode != "backtest" {
		return fmt.Errorf("mode must be one of: live, backtest")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	for _, v := range c.Venues {
		switch v.Exchange {
		case "binance", "bybit", "okx":
		default:
			return fmt.Errorf("venues[].exchange must be one of: binance, bybit, okx, got %q", v.Exchange)
		}
		if c.Mode == "live" && v.WSURL == "" {
			return fmt.Errorf("venues[%s].ws_url is required in live mode", v.Exchange)
		}
		if c.Mode == "live" && !c.DryRun && (v.ApiKey == "" || v.Secret == "") {
			return fmt.Errorf("venues[%s].api_key and secret are required in live mode", v.Exchange)
		}
	}
	if c.Risk.MinMarginRatio <= 0 {
		return fmt.Errorf("risk.min_margin_ratio must be > 0")
	}
	if c.Risk.MaxDailyDrawdown <= 0 {
		return fmt.Errorf("risk.max_daily_drawdown must be > 0")
	}
	if c.Margin.Enabled && c.Margin.DefaultLeverage <= 0 {
		return fmt.Errorf("margin.default_leverage must be > 0 when margin.enabled is true")
	}
	if c.Mode == "backtest" && c.Backtest.StartingBalance <= 0 {
		return fmt.Errorf("backtest.starting_balance must be > 0")
	}
	return nil
}
