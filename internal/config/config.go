// Package config loads order-core configuration from a YAML file with
// TOC_*-prefixed environment variable overrides for secrets, grounded on
// the polymarket bot's viper.New()/SetEnvPrefix/AutomaticEnv pattern.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, matching spec §6.3 exactly.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Breakers    BreakersConfig    `mapstructure:"breakers"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	BrokerAuth  BrokerAuthConfig  `mapstructure:"broker_auth"`
	Portfolio   PortfolioConfig   `mapstructure:"portfolio"`
	EventBus    EventBusConfig    `mapstructure:"event_bus"`
}

type ServerConfig struct {
	HTTPAddr       string   `mapstructure:"http_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ExecutionConfig matches §6.3's Execution options exactly.
type ExecutionConfig struct {
	TimeoutMillis         int `mapstructure:"timeout_millis"`
	MaxRetries            int `mapstructure:"max_retries"`
	RetryDelayMillis      int `mapstructure:"retry_delay_millis"`
	StatusPollIntervalMs  int `mapstructure:"status_poll_interval_millis"`
	MaxStatusPolls        int `mapstructure:"max_status_polls"`
	// PartialFillThresholdPct is configurable per §9's redesign note; defaults to 50.
	PartialFillThresholdPct float64 `mapstructure:"partial_fill_threshold_pct"`
}

func (e ExecutionConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMillis) * time.Millisecond
}

func (e ExecutionConfig) RetryDelay() time.Duration {
	return time.Duration(e.RetryDelayMillis) * time.Millisecond
}

func (e ExecutionConfig) StatusPollInterval() time.Duration {
	return time.Duration(e.StatusPollIntervalMs) * time.Millisecond
}

// RiskConfig matches §6.3's Risk options exactly.
type RiskConfig struct {
	MaxOrderValue             float64 `mapstructure:"max_order_value"`
	MaxDailyTrades            int     `mapstructure:"max_daily_trades"`
	MaxPositionConcentration  float64 `mapstructure:"max_position_concentration"`
	MinBuyingPowerBuffer      float64 `mapstructure:"min_buying_power_buffer"`
	MaxMarginUsage            float64 `mapstructure:"max_margin_usage"`
	// DefaultMarketReferencePrice is the §9 open question: test-grade
	// fallback used when a MARKET order carries no reference price.
	DefaultMarketReferencePrice float64 `mapstructure:"default_market_reference_price"`
}

// BreakerTunables is one row of the §4.4 per-domain tunables table.
type BreakerTunables struct {
	FailureRatePct   float64       `mapstructure:"failure_rate_pct"`
	SlowCallRatePct  float64       `mapstructure:"slow_call_rate_pct"`
	SlowCallDuration time.Duration `mapstructure:"slow_call_duration"`
	SlidingWindow    int           `mapstructure:"sliding_window"`
	MinCalls         int           `mapstructure:"min_calls"`
	OpenDuration     time.Duration `mapstructure:"open_duration"`
	HalfOpenTrials   int           `mapstructure:"half_open_trials"`
}

// BreakersConfig carries the four named-breaker tunable rows of §4.4.
type BreakersConfig struct {
	Order     BreakerTunables `mapstructure:"order"`
	Risk      BreakerTunables `mapstructure:"risk"`
	Broker    BreakerTunables `mapstructure:"broker"`
	Portfolio BreakerTunables `mapstructure:"portfolio"`
}

// SchedulerConfig carries the §4.11 periodic task periods.
type SchedulerConfig struct {
	ExpireOrdersCron      string `mapstructure:"expire_orders_cron"`
	ReconcileCron         string `mapstructure:"reconcile_cron"`
	DrainPortfolioCron    string `mapstructure:"drain_portfolio_cron"`
	MetricsSnapshotCron   string `mapstructure:"metrics_snapshot_cron"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BrokerAuthConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type PortfolioConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type EventBusConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// Default returns the §4.4/§6.3 documented defaults so the service can run
// with no config file present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: ":8080"},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Execution: ExecutionConfig{
			TimeoutMillis:           30000,
			MaxRetries:              3,
			RetryDelayMillis:        1000,
			StatusPollIntervalMs:    5000,
			MaxStatusPolls:          12,
			PartialFillThresholdPct: 50,
		},
		Risk: RiskConfig{
			MaxOrderValue:               10_000_000,
			MaxDailyTrades:              100,
			MaxPositionConcentration:    30.0,
			MinBuyingPowerBuffer:        0.1,
			MaxMarginUsage:              0.8,
			DefaultMarketReferencePrice: 100.00,
		},
		Breakers: BreakersConfig{
			Order:     BreakerTunables{50, 80, 5 * time.Second, 10, 5, 30 * time.Second, 5},
			Risk:      BreakerTunables{70, 90, 10 * time.Second, 15, 8, 45 * time.Second, 3},
			Broker:    BreakerTunables{60, 85, 8 * time.Second, 20, 10, 120 * time.Second, 2},
			Portfolio: BreakerTunables{65, 80, 7 * time.Second, 12, 6, 60 * time.Second, 4},
		},
		Scheduler: SchedulerConfig{
			ExpireOrdersCron:    "@every 60s",
			ReconcileCron:       "@every 30s",
			DrainPortfolioCron:  "@every 30s",
			MetricsSnapshotCron: "@every 60s",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads config from a YAML file (if path is non-empty and exists),
// overlays TOC_*-prefixed env vars for secrets, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("TOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %q: %w", path, err)
			}
		} else if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}

	if dsn := os.Getenv("TOC_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if key := os.Getenv("TOC_BROKER_AUTH_API_KEY"); key != "" {
		cfg.BrokerAuth.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required (set TOC_DATABASE_DSN)")
	}
	if c.Execution.TimeoutMillis <= 0 {
		return fmt.Errorf("config: execution.timeout_millis must be > 0")
	}
	if c.Risk.MaxOrderValue <= 0 {
		return fmt.Errorf("config: risk.max_order_value must be > 0")
	}
	if c.Risk.MaxMarginUsage <= 0 || c.Risk.MaxMarginUsage > 1 {
		return fmt.Errorf("config: risk.max_margin_usage must be in (0,1]")
	}
	return nil
}
