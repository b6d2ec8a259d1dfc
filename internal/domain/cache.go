package domain

import (
	"context"
	"time"
)

// CooldownEntry is one active cooldown with its remaining lifetime.
type CooldownEntry struct {
	Asset     string        `json:"asset"`
	Exchange  string        `json:"exchange"`
	Direction string        `json:"direction"`
	Remaining time.Duration `json:"remaining"`
}

// CooldownStore suppresses re-trading an (asset, exchange, direction) tuple
// until the entry expires.
type CooldownStore interface {
	Set(ctx context.Context, asset, exchange, direction string, ttl time.Duration) error
	Active(ctx context.Context, asset, exchange, direction string) (bool, error)
	Entries(ctx context.Context) ([]CooldownEntry, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
