package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/crossbot/internal/blob/s3"
	"github.com/alanyoungcy/crossbot/internal/cache/redis"
	"github.com/alanyoungcy/crossbot/internal/config"
	"github.com/alanyoungcy/crossbot/internal/domain"
	"github.com/alanyoungcy/crossbot/internal/notify"
	"github.com/alanyoungcy/crossbot/internal/ratelimit"
	"github.com/alanyoungcy/crossbot/internal/risk"
	"github.com/alanyoungcy/crossbot/internal/store/postgres"
)

// Default budget a limiter enforces on keys that carry no explicit one.
const (
	defaultRateLimit  = 10
	defaultRateWindow = time.Second
)

// Dependencies bundles the shared infrastructure the application modes build
// on. It is constructed by Wire and torn down by the returned cleanup
// function. Optional members are nil when their backend is not configured.
type Dependencies struct {
	// Infrastructure clients, kept for health probes and teardown.
	Redis    *redis.Client
	Postgres *postgres.Client
	Blob     *s3blob.Client

	// Stores
	TradeStore domain.TradeStore // nil without postgres

	// Coordination
	Cooldowns   domain.CooldownStore // redis when enabled, else in-memory
	RateLimiter domain.RateLimiter   // redis when enabled, else local buckets
	LockManager *redis.LockManager   // nil without redis
	SignalBus   domain.SignalBus     // nil without redis

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver // nil unless postgres and s3 are both wired

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 reports whether object storage must be wired: explicitly enabled,
// or required because archive mode writes there.
func needsS3(cfg *config.Config) bool {
	return cfg.S3.Enabled || strings.ToLower(cfg.Mode) == "archive"
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL trade history ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Postgres = pgClient
		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())
	}

	// --- Redis coordination ---
	// Without Redis, cooldowns and rate limits fall back to in-process
	// implementations; the live-trader lease and the event mirror are
	// unavailable.
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.Cooldowns = redis.NewCooldownStore(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, defaultRateLimit, defaultRateWindow)
		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		deps.Cooldowns = risk.NewMemoryCooldowns()
		deps.RateLimiter = ratelimit.NewLocal(defaultRateLimit, defaultRateWindow)
	}

	// --- S3 archive storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Blob = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		// Archiving moves rows out of Postgres, so it needs both backends.
		if deps.TradeStore != nil {
			deps.Archiver = s3blob.NewTradeArchiver(deps.BlobWriter, deps.TradeStore)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
