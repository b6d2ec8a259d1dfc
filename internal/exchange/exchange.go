// Package exchange routes the engine's gateway calls to per-venue adapters.
// Adapters implement Venue; the Router exposes them behind the domain
// gateway interfaces, keyed by venue name.
package exchange

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// Venue is one exchange connection. Implementations are the signed REST
// adapter and the paper simulator; both must be safe for concurrent use.
type Venue interface {
	Name() string
	OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error)
	Balance(ctx context.Context, forceRefresh bool) (domain.Balance, error)
	Ticker(ctx context.Context, symbol string) (domain.Ticker, error)
	PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, typ domain.OrderType, amount, price float64) (domain.Order, error)
	OrderStatus(ctx context.Context, orderID, symbol string) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)
}

// Router dispatches gateway calls by venue name.
type Router struct {
	venues map[string]Venue
}

func NewRouter(venues ...Venue) *Router {
	m := make(map[string]Venue, len(venues))
	for _, v := range venues {
		m[v.Name()] = v
	}
	return &Router{venues: m}
}

// Venues returns the registered venue names, sorted.
func (r *Router) Venues() []string {
	names := make([]string, 0, len(r.venues))
	for name := range r.venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) venue(name string) (Venue, error) {
	v, ok := r.venues[name]
	if !ok {
		return nil, fmt.Errorf("exchange: unknown venue %s: %w", name, domain.ErrNotFound)
	}
	return v, nil
}

func (r *Router) FetchOrderBook(ctx context.Context, exchange, symbol string, depth int) (domain.OrderBook, error) {
	v, err := r.venue(exchange)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return v.OrderBook(ctx, symbol, depth)
}

func (r *Router) FetchBalance(ctx context.Context, exchange string, forceRefresh bool) (domain.Balance, error) {
	v, err := r.venue(exchange)
	if err != nil {
		return domain.Balance{}, err
	}
	return v.Balance(ctx, forceRefresh)
}

func (r *Router) FetchTicker(ctx context.Context, exchange, symbol string) (domain.Ticker, error) {
	v, err := r.venue(exchange)
	if err != nil {
		return domain.Ticker{}, err
	}
	return v.Ticker(ctx, symbol)
}

func (r *Router) PlaceOrder(ctx context.Context, exchange, symbol string, side domain.OrderSide, typ domain.OrderType, amount, price float64) (domain.Order, error) {
	v, err := r.venue(exchange)
	if err != nil {
		return domain.Order{}, err
	}
	return v.PlaceOrder(ctx, symbol, side, typ, amount, price)
}

func (r *Router) FetchOrderStatus(ctx context.Context, exchange, orderID, symbol string) (domain.Order, error) {
	v, err := r.venue(exchange)
	if err != nil {
		return domain.Order{}, err
	}
	return v.OrderStatus(ctx, orderID, symbol)
}

func (r *Router) CancelOrder(ctx context.Context, exchange, orderID, symbol string) error {
	v, err := r.venue(exchange)
	if err != nil {
		return err
	}
	return v.CancelOrder(ctx, orderID, symbol)
}

func (r *Router) FetchOpenOrders(ctx context.Context, exchange, symbol string) ([]domain.Order, error) {
	v, err := r.venue(exchange)
	if err != nil {
		return nil, err
	}
	return v.OpenOrders(ctx, symbol)
}

var (
	_ domain.MarketDataGateway = (*Router)(nil)
	_ domain.OrderGateway      = (*Router)(nil)
)
