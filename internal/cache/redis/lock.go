package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// unlockLua deletes a lock key only when its value matches the holder's
// token, so one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends the TTL only while the holder's token is still in place.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SETNX plus token-checked
// Lua release. Hold layers lease renewal on top for the single-live-trader
// guarantee: only one process may run real-money execution at a time.
type LockManager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
	logger    *slog.Logger
}

func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
		logger:    logger.With(slog.String("component", "redis_lock")),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire obtains the lock for key with the given TTL and returns a release
// func that is safe to call more than once. Returns domain.ErrLockHeld when
// another party owns the key.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.Must(uuid.NewRandom()).String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return lm.releaseFunc(lk, token), nil
}

// Hold acquires the lock and renews it every ttl/3 until the returned release
// func is called or ctx is canceled. A renewal that finds the token gone
// (lease lost to expiry) is logged; the holder keeps running and the next
// renewal re-asserts nothing.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.Must(uuid.NewRandom()).String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	holdCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-holdCtx.Done():
				return
			case <-ticker.C:
				res, err := lm.refreshSc.Run(holdCtx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
				if err != nil {
					lm.logger.WarnContext(holdCtx, "redis: lease renewal failed",
						slog.String("key", key),
						slog.String("error", err.Error()),
					)
					continue
				}
				if res == 0 {
					lm.logger.WarnContext(holdCtx, "redis: lease no longer held",
						slog.String("key", key),
					)
				}
			}
		}
	}()

	release := lm.releaseFunc(lk, token)
	return func() {
		cancel()
		release()
	}, nil
}

// releaseFunc builds an idempotent unlock closure. It runs on a background
// context so release still reaches the server when the caller's context is
// already canceled.
func (lm *LockManager) releaseFunc(lk, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}
}

var _ domain.LockManager = (*LockManager)(nil)
