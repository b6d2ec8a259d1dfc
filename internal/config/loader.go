package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CROSSBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CROSSBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file. Per-exchange credentials use the venue name uppercased, e.g.
// CROSSBOT_EXCHANGE_BINANCE_API_KEY.
func applyEnvOverrides(cfg *Config) {
	// ── Trading ──
	setStringSlice(&cfg.Trading.SymbolsToScan, "CROSSBOT_TRADING_SYMBOLS_TO_SCAN")
	setDuration(&cfg.Trading.ScanInterval, "CROSSBOT_TRADING_SCAN_INTERVAL")
	setFloat64(&cfg.Trading.MinProfitUSD, "CROSSBOT_TRADING_MIN_PROFIT_USD")
	setFloat64(&cfg.Trading.TradeSizeQuote, "CROSSBOT_TRADING_TRADE_SIZE_QUOTE")
	setStr(&cfg.Trading.QuoteCurrency, "CROSSBOT_TRADING_QUOTE_CURRENCY")
	setDuration(&cfg.Trading.Cooldown, "CROSSBOT_TRADING_COOLDOWN")
	setFloat64(&cfg.Trading.FeePercent, "CROSSBOT_TRADING_FEE_PERCENT")
	setStr(&cfg.Trading.SizingMode, "CROSSBOT_TRADING_SIZING_MODE")
	setFloat64(&cfg.Trading.DynamicSizePercentage, "CROSSBOT_TRADING_DYNAMIC_SIZE_PERCENTAGE")
	setFloat64(&cfg.Trading.DynamicSizeMaxUSDT, "CROSSBOT_TRADING_DYNAMIC_SIZE_MAX_USDT")
	setInt(&cfg.Trading.OrderBookDepth, "CROSSBOT_TRADING_ORDER_BOOK_DEPTH")
	setDuration(&cfg.Trading.OrderTimeout, "CROSSBOT_TRADING_ORDER_TIMEOUT")
	setBool(&cfg.Trading.ScanLogEnabled, "CROSSBOT_TRADING_SCAN_LOG_ENABLED")
	setBool(&cfg.Trading.MirrorEventsToRedis, "CROSSBOT_TRADING_MIRROR_EVENTS_TO_REDIS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxCapitalDeploymentPct, "CROSSBOT_RISK_MAX_CAPITAL_DEPLOYMENT_PCT")
	setFloat64(&cfg.Risk.BalanceKillSwitchUSD, "CROSSBOT_RISK_BALANCE_KILL_SWITCH_USD")
	setFloat64(&cfg.Risk.BalancePercentagePerTrade, "CROSSBOT_RISK_BALANCE_PERCENTAGE_PER_TRADE")
	setFloat64(&cfg.Risk.MaxTradeSizeUSDT, "CROSSBOT_RISK_MAX_TRADE_SIZE_USDT")
	setDuration(&cfg.Risk.PortfolioCacheTTL, "CROSSBOT_RISK_PORTFOLIO_CACHE_TTL")

	// ── Rebalancing ──
	setBool(&cfg.Rebalancing.Enabled, "CROSSBOT_REBALANCING_ENABLED")
	setFloat64(&cfg.Rebalancing.DefaultMaxInventoryPct, "CROSSBOT_REBALANCING_DEFAULT_MAX_INVENTORY_PERCENT")
	setFloat64(&cfg.Rebalancing.ThresholdPct, "CROSSBOT_REBALANCING_THRESHOLD_PERCENT")
	setDuration(&cfg.Rebalancing.Interval, "CROSSBOT_REBALANCING_INTERVAL")

	// ── Stop ──
	setInt(&cfg.Stop.MaxTrades, "CROSSBOT_STOP_MAX_TRADES")
	setDuration(&cfg.Stop.RunDuration, "CROSSBOT_STOP_RUN_DURATION")

	// ── Exchanges ──
	for name, ex := range cfg.Exchanges {
		prefix := "CROSSBOT_EXCHANGE_" + strings.ToUpper(name) + "_"
		setStr(&ex.BaseURL, prefix+"BASE_URL")
		setStr(&ex.ApiKey, prefix+"API_KEY")
		setStr(&ex.ApiSecret, prefix+"API_SECRET")
		setStr(&ex.ApiPassphrase, prefix+"API_PASSPHRASE")
		setStr(&ex.EncryptedKeyPath, prefix+"ENCRYPTED_KEY_PATH")
		setStr(&ex.KeyPassword, prefix+"KEY_PASSWORD")
		cfg.Exchanges[name] = ex
	}

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CROSSBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CROSSBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CROSSBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CROSSBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CROSSBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CROSSBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CROSSBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CROSSBOT_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "CROSSBOT_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "CROSSBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CROSSBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CROSSBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CROSSBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CROSSBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CROSSBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CROSSBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CROSSBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CROSSBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CROSSBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CROSSBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CROSSBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CROSSBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CROSSBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CROSSBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CROSSBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CROSSBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CROSSBOT_S3_FORCE_PATH_STYLE")

	// ── History ──
	setStr(&cfg.History.Dir, "CROSSBOT_HISTORY_DIR")
	setBool(&cfg.History.CSVEnabled, "CROSSBOT_HISTORY_CSV_ENABLED")
	setInt(&cfg.History.ArchiveRetentionDays, "CROSSBOT_HISTORY_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.History.ArchiveCron, "CROSSBOT_HISTORY_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CROSSBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CROSSBOT_SERVER_PORT")
	setStr(&cfg.Server.ApiKey, "CROSSBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "CROSSBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerSec, "CROSSBOT_SERVER_RATE_LIMIT_PER_SEC")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CROSSBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CROSSBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CROSSBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CROSSBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CROSSBOT_MODE")
	setStr(&cfg.LogLevel, "CROSSBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
