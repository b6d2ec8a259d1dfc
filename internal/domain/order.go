package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType selects how the order executes on the venue.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle as reported by the venue.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusExpired  OrderStatus = "expired"
)

// Terminal reports whether the venue will make no further changes to the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusClosed, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Order is one venue order, tracked per trade leg.
type Order struct {
	ID        string
	Exchange  string
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Amount    float64 // requested, in base units
	Price     float64 // limit price, 0 for market orders
	Filled    float64 // filled so far, in base units
	AvgPrice  float64 // average fill price
	FeeQuote  float64 // fees charged, in quote units
	Status    OrderStatus
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// FillRatio returns filled/requested, 0 when nothing was requested.
func (o Order) FillRatio() float64 {
	if o.Amount <= 0 {
		return 0
	}
	return o.Filled / o.Amount
}
