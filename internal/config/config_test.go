package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults() should validate: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Trading.MinProfitUSD = -1
	cfg.Trading.SizingMode = "guess"
	cfg.Risk.MaxCapitalDeploymentPct = 150

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown mode", "min_profit_usd", "sizing_mode", "max_capital_deployment_pct"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateTradeModeRequiresVenues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Exchanges = map[string]ExchangeConfig{
		"binance": {BaseURL: "https://api.binance.com", ApiKey: "k", ApiSecret: "s"},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "at least 2 venues") {
		t.Fatalf("expected venue count error, got %v", err)
	}

	cfg.Exchanges["kraken"] = ExchangeConfig{BaseURL: "https://api.kraken.com", ApiKey: "k", ApiSecret: "s"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("two venues should validate: %v", err)
	}
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Exchanges = map[string]ExchangeConfig{
		"binance": {BaseURL: "u", ApiKey: "k", EncryptedKeyPath: "key.json"},
		"kraken":  {BaseURL: "u", ApiKey: "k", ApiSecret: "s"},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password is required") {
		t.Fatalf("expected key_password error, got %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "trade"
log_level = "debug"

[trading]
symbols_to_scan = ["SOL/USDT"]
scan_interval = "2s"
min_profit_usd = 1.25
trade_size_quote = 250.0

[risk]
max_capital_deployment_pct = 25.0

[exchanges.binance]
base_url = "https://api.binance.com"
api_key = "bk"
api_secret = "bs"
taker_fee_percent = 0.1

[exchanges.kraken]
base_url = "https://api.kraken.com"
api_key = "kk"
api_secret = "ks"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "trade" {
		t.Errorf("Mode = %q, want trade", cfg.Mode)
	}
	if got := cfg.Trading.ScanInterval.Duration; got != 2*time.Second {
		t.Errorf("ScanInterval = %v, want 2s", got)
	}
	if cfg.Trading.MinProfitUSD != 1.25 {
		t.Errorf("MinProfitUSD = %v, want 1.25", cfg.Trading.MinProfitUSD)
	}
	if len(cfg.Trading.SymbolsToScan) != 1 || cfg.Trading.SymbolsToScan[0] != "SOL/USDT" {
		t.Errorf("SymbolsToScan = %v", cfg.Trading.SymbolsToScan)
	}
	// Unset fields keep their defaults.
	if cfg.Trading.QuoteCurrency != "USDT" {
		t.Errorf("QuoteCurrency default lost: %q", cfg.Trading.QuoteCurrency)
	}
	if cfg.Exchanges["binance"].TakerFeePercent != 0.1 {
		t.Errorf("binance fee = %v", cfg.Exchanges["binance"].TakerFeePercent)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CROSSBOT_TRADING_MIN_PROFIT_USD", "9.5")
	t.Setenv("CROSSBOT_TRADING_SYMBOLS_TO_SCAN", "BTC/USDT, ETH/USDT ,SOL/USDT")
	t.Setenv("CROSSBOT_RISK_PORTFOLIO_CACHE_TTL", "45s")
	t.Setenv("CROSSBOT_EXCHANGE_BINANCE_API_KEY", "env-key")
	t.Setenv("CROSSBOT_MODE", "monitor")

	cfg := Defaults()
	cfg.Exchanges = map[string]ExchangeConfig{"binance": {ApiKey: "file-key"}}
	applyEnvOverrides(&cfg)

	if cfg.Trading.MinProfitUSD != 9.5 {
		t.Errorf("MinProfitUSD = %v, want 9.5", cfg.Trading.MinProfitUSD)
	}
	if len(cfg.Trading.SymbolsToScan) != 3 || cfg.Trading.SymbolsToScan[2] != "SOL/USDT" {
		t.Errorf("SymbolsToScan = %v", cfg.Trading.SymbolsToScan)
	}
	if cfg.Risk.PortfolioCacheTTL.Duration != 45*time.Second {
		t.Errorf("PortfolioCacheTTL = %v, want 45s", cfg.Risk.PortfolioCacheTTL.Duration)
	}
	if cfg.Exchanges["binance"].ApiKey != "env-key" {
		t.Errorf("binance ApiKey = %q, want env-key", cfg.Exchanges["binance"].ApiKey)
	}
	if cfg.Mode != "monitor" {
		t.Errorf("Mode = %q, want monitor", cfg.Mode)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Exchanges = map[string]ExchangeConfig{
		"binance": {ApiKey: "key", ApiSecret: "secret", KeyPassword: "pw"},
	}
	cfg.Postgres.Password = "dbpass"
	cfg.Redis.Password = "redispass"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)

	if red.Exchanges["binance"].ApiSecret != "***" {
		t.Errorf("exchange secret not redacted: %q", red.Exchanges["binance"].ApiSecret)
	}
	if red.Postgres.Password != "***" || red.Redis.Password != "***" || red.Notify.TelegramToken != "***" {
		t.Error("passwords/tokens not redacted")
	}
	// Original must be untouched.
	if cfg.Exchanges["binance"].ApiSecret != "secret" || cfg.Postgres.Password != "dbpass" {
		t.Error("RedactedConfig mutated the original")
	}
	// Empty secrets stay empty rather than becoming "***".
	if red.S3.SecretKey != "" {
		t.Errorf("empty secret became %q", red.S3.SecretKey)
	}
}
