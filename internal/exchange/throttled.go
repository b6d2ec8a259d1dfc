package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

const throttlePollInterval = 25 * time.Millisecond

// Throttled wraps a Venue so every call first clears the shared rate limiter
// under the venue's request budget. With the Redis limiter behind it, all
// processes hitting the same venue share one budget.
type Throttled struct {
	inner   Venue
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
}

// Throttle decorates v with a per-second request budget. limit <= 0 returns
// v untouched.
func Throttle(v Venue, limiter domain.RateLimiter, limitPerSec int) Venue {
	if limitPerSec <= 0 {
		return v
	}
	return &Throttled{
		inner:   v,
		limiter: limiter,
		limit:   limitPerSec,
		window:  time.Second,
	}
}

func (t *Throttled) wait(ctx context.Context) error {
	for {
		allowed, err := t.limiter.Allow(ctx, t.inner.Name(), t.limit, t.window)
		if err != nil {
			return fmt.Errorf("exchange: throttle %s: %w", t.inner.Name(), err)
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(throttlePollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("exchange: throttle %s: %w", t.inner.Name(), ctx.Err())
		case <-timer.C:
		}
	}
}

func (t *Throttled) Name() string { return t.inner.Name() }

func (t *Throttled) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	if err := t.wait(ctx); err != nil {
		return domain.OrderBook{}, err
	}
	return t.inner.OrderBook(ctx, symbol, depth)
}

func (t *Throttled) Balance(ctx context.Context, forceRefresh bool) (domain.Balance, error) {
	if err := t.wait(ctx); err != nil {
		return domain.Balance{}, err
	}
	return t.inner.Balance(ctx, forceRefresh)
}

func (t *Throttled) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	if err := t.wait(ctx); err != nil {
		return domain.Ticker{}, err
	}
	return t.inner.Ticker(ctx, symbol)
}

func (t *Throttled) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, typ domain.OrderType, amount, price float64) (domain.Order, error) {
	if err := t.wait(ctx); err != nil {
		return domain.Order{}, err
	}
	return t.inner.PlaceOrder(ctx, symbol, side, typ, amount, price)
}

func (t *Throttled) OrderStatus(ctx context.Context, orderID, symbol string) (domain.Order, error) {
	if err := t.wait(ctx); err != nil {
		return domain.Order{}, err
	}
	return t.inner.OrderStatus(ctx, orderID, symbol)
}

func (t *Throttled) CancelOrder(ctx context.Context, orderID, symbol string) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	return t.inner.CancelOrder(ctx, orderID, symbol)
}

func (t *Throttled) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.OpenOrders(ctx, symbol)
}

var _ Venue = (*Throttled)(nil)
