package domain

import "context"

// MarketDataGateway reads public and private market state from venues.
// Implementations must be safe for concurrent use.
type MarketDataGateway interface {
	// FetchOrderBook returns a depth snapshot for symbol on the exchange.
	FetchOrderBook(ctx context.Context, exchange, symbol string, depth int) (OrderBook, error)
	// FetchBalance returns account balances. forceRefresh bypasses any
	// gateway-side caching.
	FetchBalance(ctx context.Context, exchange string, forceRefresh bool) (Balance, error)
	// FetchTicker returns the current mid price for symbol on the exchange.
	FetchTicker(ctx context.Context, exchange, symbol string) (Ticker, error)
}

// OrderGateway places and tracks venue orders.
//
// FetchOrderStatus falls back to open-orders membership on venues whose
// order lookup expires shortly after close: an order absent from the open
// set is reported closed with Filled equal to the requested amount.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, exchange, symbol string, side OrderSide, typ OrderType, amount, price float64) (Order, error)
	FetchOrderStatus(ctx context.Context, exchange, orderID, symbol string) (Order, error)
	CancelOrder(ctx context.Context, exchange, orderID, symbol string) error
	FetchOpenOrders(ctx context.Context, exchange, symbol string) ([]Order, error)
}
