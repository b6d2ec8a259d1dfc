// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CROSSBOT_* environment variables.
type Config struct {
	Trading     TradingConfig             `toml:"trading"`
	Risk        RiskConfig                `toml:"risk"`
	Rebalancing RebalancingConfig         `toml:"rebalancing"`
	Stop        StopConfig                `toml:"stop"`
	Exchanges   map[string]ExchangeConfig `toml:"exchanges"`
	Postgres    PostgresConfig            `toml:"postgres"`
	Redis       RedisConfig               `toml:"redis"`
	S3          S3Config                  `toml:"s3"`
	History     HistoryConfig             `toml:"history"`
	Server      ServerConfig              `toml:"server"`
	Notify      NotifyConfig              `toml:"notify"`
	Mode        string                    `toml:"mode"`
	LogLevel    string                    `toml:"log_level"`
}

// TradingConfig holds scanner and execution parameters.
type TradingConfig struct {
	SymbolsToScan []string `toml:"symbols_to_scan"`
	ScanInterval  duration `toml:"scan_interval"`
	MinProfitUSD  float64  `toml:"min_profit_usd"`
	// TradeSizeQuote is the quote-currency stake per trade in fixed sizing mode.
	TradeSizeQuote float64  `toml:"trade_size_quote"`
	QuoteCurrency  string   `toml:"quote_currency"`
	Cooldown       duration `toml:"cooldown"`
	// FeePercent is the default taker fee applied when an exchange has no
	// per-venue override.
	FeePercent float64 `toml:"fee_percent"`
	// SizingMode selects stake sizing: "fixed" or "dynamic".
	SizingMode             string   `toml:"sizing_mode"`
	DynamicSizePercentage  float64  `toml:"dynamic_size_percentage"`
	DynamicSizeMaxUSDT     float64  `toml:"dynamic_size_max_usdt"`
	OrderBookDepth         int      `toml:"order_book_depth"`
	OrderTimeout           duration `toml:"order_timeout"`
	OrderPollFloor         duration `toml:"order_poll_floor"`
	OrderPollCap           duration `toml:"order_poll_cap"`
	ScanLogEnabled         bool     `toml:"scan_log_enabled"`
	MirrorEventsToRedis    bool     `toml:"mirror_events_to_redis"`
	SingleInstanceLockName string   `toml:"single_instance_lock_name"`
	// PaperStartingBalances seeds every simulated venue in paper mode,
	// asset to free amount.
	PaperStartingBalances map[string]float64 `toml:"paper_starting_balances"`
}

// RiskConfig holds capital and kill-switch parameters.
type RiskConfig struct {
	MaxCapitalDeploymentPct   float64  `toml:"max_capital_deployment_pct"`
	BalanceKillSwitchUSD      float64  `toml:"balance_kill_switch_usd"`
	BalancePercentagePerTrade float64  `toml:"balance_percentage_per_trade"`
	MaxTradeSizeUSDT          float64  `toml:"max_trade_size_usdt"`
	PortfolioCacheTTL         duration `toml:"portfolio_cache_ttl"`
}

// RebalancingConfig holds inventory rebalancer parameters.
type RebalancingConfig struct {
	Enabled bool `toml:"enabled"`
	// AssetTargetsPct maps asset symbol to its target share of portfolio
	// value, in percent.
	AssetTargetsPct        map[string]float64 `toml:"asset_inventory_targets_percent"`
	DefaultMaxInventoryPct float64            `toml:"default_max_inventory_percent"`
	ThresholdPct           float64            `toml:"rebalance_threshold_percent"`
	Interval               duration           `toml:"rebalance_interval"`
	LeftoverWarnThreshold  float64            `toml:"leftover_warn_threshold"`
}

// StopConfig holds session stop conditions. Zero values disable a condition.
type StopConfig struct {
	MaxTrades   int      `toml:"max_trades"`
	RunDuration duration `toml:"run_duration"`
}

// ExchangeConfig holds one venue's endpoint, credentials, and market limits.
type ExchangeConfig struct {
	BaseURL          string  `toml:"base_url"`
	ApiKey           string  `toml:"api_key"`
	ApiSecret        string  `toml:"api_secret"`
	ApiPassphrase    string  `toml:"api_passphrase"`
	EncryptedKeyPath string  `toml:"encrypted_key_path"`
	KeyPassword      string  `toml:"key_password"`
	TakerFeePercent  float64 `toml:"taker_fee_percent"`
	MinNotionalUSD   float64 `toml:"min_notional_usd"`
	RateLimitPerSec  int     `toml:"rate_limit_per_sec"`
}

// PostgresConfig holds PostgreSQL connection parameters for trade history.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// HistoryConfig holds trade-history sink parameters.
type HistoryConfig struct {
	Dir                  string `toml:"dir"`
	CSVEnabled           bool   `toml:"csv_enabled"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
	ArchiveCron          string `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	ApiKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimitPerSec caps API requests per client per second. 0 disables.
	RateLimitPerSec int `toml:"rate_limit_per_sec"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Trading: TradingConfig{
			SymbolsToScan:          []string{"BTC/USDT", "ETH/USDT"},
			ScanInterval:           duration{5 * time.Second},
			MinProfitUSD:           0.50,
			TradeSizeQuote:         100.0,
			QuoteCurrency:          "USDT",
			Cooldown:               duration{5 * time.Minute},
			FeePercent:             0.1,
			SizingMode:             "fixed",
			DynamicSizePercentage:  5.0,
			DynamicSizeMaxUSDT:     1000.0,
			OrderBookDepth:         5,
			OrderTimeout:           duration{30 * time.Second},
			OrderPollFloor:         duration{150 * time.Millisecond},
			OrderPollCap:           duration{750 * time.Millisecond},
			ScanLogEnabled:         false,
			MirrorEventsToRedis:    false,
			SingleInstanceLockName: "lease:trader",
			PaperStartingBalances: map[string]float64{
				"USDT": 10_000,
				"BTC":  0.5,
				"ETH":  5,
			},
		},
		Risk: RiskConfig{
			MaxCapitalDeploymentPct:   50.0,
			BalanceKillSwitchUSD:      100.0,
			BalancePercentagePerTrade: 5.0,
			MaxTradeSizeUSDT:          1000.0,
			PortfolioCacheTTL:         duration{30 * time.Second},
		},
		Rebalancing: RebalancingConfig{
			Enabled:                false,
			AssetTargetsPct:        map[string]float64{},
			DefaultMaxInventoryPct: 25.0,
			ThresholdPct:           5.0,
			Interval:               duration{time.Hour},
			LeftoverWarnThreshold:  0.00001,
		},
		Stop: StopConfig{
			MaxTrades:   0,
			RunDuration: duration{0},
		},
		Exchanges: map[string]ExchangeConfig{},
		Postgres: PostgresConfig{
			Enabled:       false,
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "crossbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "crossbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		History: HistoryConfig{
			Dir:                  "data",
			CSVEnabled:           true,
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerSec: 20,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_finished", "status_change", "error"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSizingModes enumerates the accepted values for Trading.SizingMode.
var validSizingModes = map[string]bool{
	"fixed":   true,
	"dynamic": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Trading
	if len(c.Trading.SymbolsToScan) == 0 {
		errs = append(errs, "trading: symbols_to_scan must not be empty")
	}
	for _, sym := range c.Trading.SymbolsToScan {
		if !strings.Contains(sym, "/") {
			errs = append(errs, fmt.Sprintf("trading: symbol %q must be BASE/QUOTE form", sym))
		}
	}
	if c.Trading.ScanInterval.Duration <= 0 {
		errs = append(errs, "trading: scan_interval must be > 0")
	}
	if c.Trading.MinProfitUSD < 0 {
		errs = append(errs, "trading: min_profit_usd must be >= 0")
	}
	if c.Trading.QuoteCurrency == "" {
		errs = append(errs, "trading: quote_currency must not be empty")
	}
	if c.Trading.FeePercent < 0 {
		errs = append(errs, "trading: fee_percent must be >= 0")
	}
	if !validSizingModes[c.Trading.SizingMode] {
		errs = append(errs, fmt.Sprintf("trading: unknown sizing_mode %q (valid: fixed, dynamic)", c.Trading.SizingMode))
	}
	if c.Trading.SizingMode == "fixed" && c.Trading.TradeSizeQuote <= 0 {
		errs = append(errs, "trading: trade_size_quote must be > 0 in fixed sizing mode")
	}
	if c.Trading.SizingMode == "dynamic" {
		if c.Trading.DynamicSizePercentage <= 0 || c.Trading.DynamicSizePercentage > 100 {
			errs = append(errs, fmt.Sprintf("trading: dynamic_size_percentage must be in (0, 100], got %v", c.Trading.DynamicSizePercentage))
		}
		if c.Trading.DynamicSizeMaxUSDT <= 0 {
			errs = append(errs, "trading: dynamic_size_max_usdt must be > 0 in dynamic sizing mode")
		}
	}
	if c.Trading.OrderBookDepth < 1 {
		errs = append(errs, "trading: order_book_depth must be >= 1")
	}
	if c.Trading.OrderTimeout.Duration <= 0 {
		errs = append(errs, "trading: order_timeout must be > 0")
	}
	if c.Trading.OrderPollFloor.Duration <= 0 {
		errs = append(errs, "trading: order_poll_floor must be > 0")
	}
	if c.Trading.OrderPollCap.Duration < c.Trading.OrderPollFloor.Duration {
		errs = append(errs, "trading: order_poll_cap must be >= order_poll_floor")
	}
	for asset, amt := range c.Trading.PaperStartingBalances {
		if amt < 0 {
			errs = append(errs, fmt.Sprintf("trading: paper starting balance for %s must be >= 0, got %v", asset, amt))
		}
	}

	// Risk
	if c.Risk.MaxCapitalDeploymentPct <= 0 || c.Risk.MaxCapitalDeploymentPct > 100 {
		errs = append(errs, fmt.Sprintf("risk: max_capital_deployment_pct must be in (0, 100], got %v", c.Risk.MaxCapitalDeploymentPct))
	}
	if c.Risk.BalanceKillSwitchUSD < 0 {
		errs = append(errs, "risk: balance_kill_switch_usd must be >= 0")
	}
	if c.Risk.BalancePercentagePerTrade <= 0 || c.Risk.BalancePercentagePerTrade > 100 {
		errs = append(errs, fmt.Sprintf("risk: balance_percentage_per_trade must be in (0, 100], got %v", c.Risk.BalancePercentagePerTrade))
	}
	if c.Risk.MaxTradeSizeUSDT <= 0 {
		errs = append(errs, "risk: max_trade_size_usdt must be > 0")
	}
	if c.Risk.PortfolioCacheTTL.Duration <= 0 {
		errs = append(errs, "risk: portfolio_cache_ttl must be > 0")
	}

	// Rebalancing
	if c.Rebalancing.Enabled {
		if c.Rebalancing.ThresholdPct <= 0 {
			errs = append(errs, "rebalancing: rebalance_threshold_percent must be > 0 when enabled")
		}
		if c.Rebalancing.Interval.Duration <= 0 {
			errs = append(errs, "rebalancing: rebalance_interval must be > 0 when enabled")
		}
		if c.Rebalancing.DefaultMaxInventoryPct <= 0 || c.Rebalancing.DefaultMaxInventoryPct > 100 {
			errs = append(errs, fmt.Sprintf("rebalancing: default_max_inventory_percent must be in (0, 100], got %v", c.Rebalancing.DefaultMaxInventoryPct))
		}
		for asset, pct := range c.Rebalancing.AssetTargetsPct {
			if pct < 0 || pct > 100 {
				errs = append(errs, fmt.Sprintf("rebalancing: target for %s must be in [0, 100], got %v", asset, pct))
			}
		}
	}

	// Stop
	if c.Stop.MaxTrades < 0 {
		errs = append(errs, "stop: max_trades must be >= 0")
	}
	if c.Stop.RunDuration.Duration < 0 {
		errs = append(errs, "stop: run_duration must be >= 0")
	}

	// Exchanges — live trading needs at least two venues with credentials.
	if c.Mode == "trade" {
		if len(c.Exchanges) < 2 {
			errs = append(errs, fmt.Sprintf("exchanges: at least 2 venues are required for trade mode, got %d", len(c.Exchanges)))
		}
		for name, ex := range c.Exchanges {
			if ex.BaseURL == "" {
				errs = append(errs, fmt.Sprintf("exchanges.%s: base_url must not be empty", name))
			}
			if ex.ApiKey == "" {
				errs = append(errs, fmt.Sprintf("exchanges.%s: api_key must not be empty", name))
			}
			if ex.ApiSecret == "" && ex.EncryptedKeyPath == "" {
				errs = append(errs, fmt.Sprintf("exchanges.%s: either api_secret or encrypted_key_path must be set", name))
			}
			if ex.EncryptedKeyPath != "" && ex.KeyPassword == "" {
				errs = append(errs, fmt.Sprintf("exchanges.%s: key_password is required when encrypted_key_path is set", name))
			}
		}
	}
	for name, ex := range c.Exchanges {
		if ex.TakerFeePercent < 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: taker_fee_percent must be >= 0", name))
		}
		if ex.MinNotionalUSD < 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: min_notional_usd must be >= 0", name))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Archive mode needs the database as its source.
	if c.Mode == "archive" && !c.Postgres.Enabled {
		errs = append(errs, "postgres: must be enabled for archive mode")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerSec < 0 {
			errs = append(errs, "server: rate_limit_per_sec must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
