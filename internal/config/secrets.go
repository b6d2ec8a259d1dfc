package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Exchanges — copy the map and redact each venue's credentials.
	if cfg.Exchanges != nil {
		out.Exchanges = make(map[string]ExchangeConfig, len(cfg.Exchanges))
		for name, ex := range cfg.Exchanges {
			redact(&ex.ApiKey)
			redact(&ex.ApiSecret)
			redact(&ex.ApiPassphrase)
			redact(&ex.KeyPassword)
			out.Exchanges[name] = ex
		}
	}

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	out.Server = cfg.Server
	redact(&out.Server.ApiKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Trading.SymbolsToScan != nil {
		out.Trading.SymbolsToScan = make([]string, len(cfg.Trading.SymbolsToScan))
		copy(out.Trading.SymbolsToScan, cfg.Trading.SymbolsToScan)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Rebalancing.AssetTargetsPct != nil {
		out.Rebalancing.AssetTargetsPct = make(map[string]float64, len(cfg.Rebalancing.AssetTargetsPct))
		for k, v := range cfg.Rebalancing.AssetTargetsPct {
			out.Rebalancing.AssetTargetsPct[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
