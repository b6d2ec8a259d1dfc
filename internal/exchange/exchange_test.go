package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

type stubVenue struct {
	name    string
	tickers int
	orders  int
}

func (s *stubVenue) Name() string { return s.name }

func (s *stubVenue) OrderBook(context.Context, string, int) (domain.OrderBook, error) {
	return domain.OrderBook{Exchange: s.name}, nil
}

func (s *stubVenue) Balance(context.Context, bool) (domain.Balance, error) {
	return domain.Balance{Exchange: s.name}, nil
}

func (s *stubVenue) Ticker(_ context.Context, symbol string) (domain.Ticker, error) {
	s.tickers++
	return domain.Ticker{Exchange: s.name, Symbol: symbol, MidPrice: 100}, nil
}

func (s *stubVenue) PlaceOrder(context.Context, string, domain.OrderSide, domain.OrderType, float64, float64) (domain.Order, error) {
	s.orders++
	return domain.Order{Exchange: s.name, ID: "ord-1"}, nil
}

func (s *stubVenue) OrderStatus(context.Context, string, string) (domain.Order, error) {
	return domain.Order{Exchange: s.name}, nil
}

func (s *stubVenue) CancelOrder(context.Context, string, string) error { return nil }

func (s *stubVenue) OpenOrders(context.Context, string) ([]domain.Order, error) {
	return nil, nil
}

func TestRouterDispatchesByVenueName(t *testing.T) {
	t.Parallel()

	alpha := &stubVenue{name: "alpha"}
	beta := &stubVenue{name: "beta"}
	r := NewRouter(alpha, beta)

	tick, err := r.FetchTicker(context.Background(), "beta", "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}
	if tick.Exchange != "beta" || beta.tickers != 1 || alpha.tickers != 0 {
		t.Fatalf("dispatch went to the wrong venue: %+v", tick)
	}

	if got := r.Venues(); len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("Venues() = %v", got)
	}
}

func TestRouterUnknownVenue(t *testing.T) {
	t.Parallel()

	r := NewRouter(&stubVenue{name: "alpha"})
	_, err := r.FetchOrderBook(context.Background(), "gamma", "BTC/USDT", 10)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

type scriptedLimiter struct {
	allows []bool
	calls  int
}

func (l *scriptedLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	if l.calls >= len(l.allows) {
		return true, nil
	}
	ok := l.allows[l.calls]
	l.calls++
	return ok, nil
}

func (l *scriptedLimiter) Wait(context.Context, string) error { return nil }

func TestThrottleRetriesUntilAdmitted(t *testing.T) {
	t.Parallel()

	inner := &stubVenue{name: "alpha"}
	lim := &scriptedLimiter{allows: []bool{false, true}}
	v := Throttle(inner, lim, 5)

	if _, err := v.Ticker(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("Ticker: %v", err)
	}
	if lim.calls != 2 {
		t.Fatalf("limiter consulted %d times, want 2", lim.calls)
	}
	if inner.tickers != 1 {
		t.Fatalf("inner called %d times", inner.tickers)
	}
}

func TestThrottleZeroBudgetDisablesWrapper(t *testing.T) {
	t.Parallel()

	inner := &stubVenue{name: "alpha"}
	if v := Throttle(inner, &scriptedLimiter{}, 0); v != Venue(inner) {
		t.Fatal("zero budget should return the venue unwrapped")
	}
}

func TestThrottleStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	inner := &stubVenue{name: "alpha"}
	lim := &scriptedLimiter{allows: []bool{false, false, false, false, false, false, false, false}}
	v := Throttle(inner, lim, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	_, err := v.PlaceOrder(ctx, "BTC/USDT", domain.OrderSideBuy, domain.OrderTypeMarket, 1, 0)
	if err == nil {
		t.Fatal("expected context error")
	}
	if inner.orders != 0 {
		t.Fatal("order reached the venue despite throttle denial")
	}
}
