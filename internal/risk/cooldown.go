package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// MemoryCooldowns is an in-process CooldownStore backed by a TTL map. It is
// the default backend; the Redis-backed store is used when several bot
// processes must share suppression state. Safe for concurrent use.
type MemoryCooldowns struct {
	entries map[string]time.Time // key -> expiry
	mu      sync.Mutex
	now     func() time.Time
}

var _ domain.CooldownStore = (*MemoryCooldowns)(nil)

// NewMemoryCooldowns creates an empty in-memory cooldown store.
func NewMemoryCooldowns() *MemoryCooldowns {
	return &MemoryCooldowns{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// CooldownKey builds the canonical suppression key for an
// (asset, exchange, direction) tuple.
func CooldownKey(asset, exchange, direction string) string {
	return fmt.Sprintf("%s:%s:%s", direction, asset, exchange)
}

// SplitCooldownKey is the inverse of CooldownKey.
func SplitCooldownKey(key string) (asset, exchange, direction string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return "", "", ""
	}
	return parts[1], parts[2], parts[0]
}

// Set suppresses the tuple for ttl from now. Setting again extends the window.
func (c *MemoryCooldowns) Set(_ context.Context, asset, exchange, direction string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[CooldownKey(asset, exchange, direction)] = c.now().Add(ttl)
	return nil
}

// Active reports whether the tuple is still suppressed. Expired entries are
// removed on the way out.
func (c *MemoryCooldowns) Active(_ context.Context, asset, exchange, direction string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := CooldownKey(asset, exchange, direction)
	expiry, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if c.now().After(expiry) {
		delete(c.entries, key)
		return false, nil
	}
	return true, nil
}

// Entries returns all active cooldowns with their remaining lifetimes,
// pruning expired ones as a side effect.
func (c *MemoryCooldowns) Entries(_ context.Context) ([]domain.CooldownEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]domain.CooldownEntry, 0, len(c.entries))
	for key, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, key)
			continue
		}
		asset, exchange, direction := SplitCooldownKey(key)
		out = append(out, domain.CooldownEntry{
			Asset:     asset,
			Exchange:  exchange,
			Direction: direction,
			Remaining: expiry.Sub(now),
		})
	}
	return out, nil
}
