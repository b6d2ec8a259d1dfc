// Package ratelimit provides an in-process token bucket limiter, used for
// single-instance runs where the Redis limiter is disabled.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// Local implements domain.RateLimiter with one token bucket per key. The
// budget seen on a key's first call sticks; per-venue budgets are stable so
// this never bites in practice.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	defaultLimit  int
	defaultWindow time.Duration
}

// NewLocal creates a limiter whose Wait method enforces limit requests per
// window on each key.
func NewLocal(limit int, window time.Duration) *Local {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Local{
		buckets:       make(map[string]*rate.Limiter),
		defaultLimit:  limit,
		defaultWindow: window,
	}
}

func (l *Local) bucket(key string, limit int, window time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		rps := float64(limit) / window.Seconds()
		burst := limit
		if burst < 1 {
			burst = 1
		}
		b = rate.NewLimiter(rate.Limit(rps), burst)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether one request for key fits the budget right now.
func (l *Local) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.bucket(key, limit, window).Allow(), nil
}

// Wait blocks until the default budget admits one request for key, or ctx
// is done.
func (l *Local) Wait(ctx context.Context, key string) error {
	return l.bucket(key, l.defaultLimit, l.defaultWindow).Wait(ctx)
}

var _ domain.RateLimiter = (*Local)(nil)
