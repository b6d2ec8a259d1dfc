package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// CooldownStore implements domain.CooldownStore on plain Redis keys with
// TTLs, so suppressions survive process restarts and are shared when several
// engine instances point at the same server.
type CooldownStore struct {
	rdb *redis.Client
}

func NewCooldownStore(c *Client) *CooldownStore {
	return &CooldownStore{rdb: c.Underlying()}
}

// cooldownKey mirrors the in-memory store's direction:asset:exchange layout
// under a "cooldown:" prefix.
func cooldownKey(asset, exchange, direction string) string {
	return fmt.Sprintf("cooldown:%s:%s:%s", direction, asset, exchange)
}

func splitCooldownKey(key string) (asset, exchange, direction string, ok bool) {
	rest, found := strings.CutPrefix(key, "cooldown:")
	if !found {
		return "", "", "", false
	}
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[0], true
}

// Set suppresses the tuple for ttl. Setting again extends the window.
func (cs *CooldownStore) Set(ctx context.Context, asset, exchange, direction string, ttl time.Duration) error {
	key := cooldownKey(asset, exchange, direction)
	if err := cs.rdb.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis: set cooldown %s: %w", key, err)
	}
	return nil
}

// Active reports whether the tuple is still suppressed. Expiry is Redis's
// own TTL eviction, so there is nothing to prune here.
func (cs *CooldownStore) Active(ctx context.Context, asset, exchange, direction string) (bool, error) {
	key := cooldownKey(asset, exchange, direction)
	n, err := cs.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check cooldown %s: %w", key, err)
	}
	return n > 0, nil
}

// Entries scans all active cooldowns with their remaining lifetimes.
func (cs *CooldownStore) Entries(ctx context.Context) ([]domain.CooldownEntry, error) {
	var out []domain.CooldownEntry

	iter := cs.rdb.Scan(ctx, 0, "cooldown:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		asset, exchange, direction, ok := splitCooldownKey(key)
		if !ok {
			continue
		}

		remaining, err := cs.rdb.PTTL(ctx, key).Result()
		if err != nil || remaining <= 0 {
			// Expired between SCAN and PTTL, or no TTL attached.
			continue
		}

		out = append(out, domain.CooldownEntry{
			Asset:     asset,
			Exchange:  exchange,
			Direction: direction,
			Remaining: remaining,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan cooldowns: %w", err)
	}

	return out, nil
}

var _ domain.CooldownStore = (*CooldownStore)(nil)
