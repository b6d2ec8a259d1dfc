package httpapi

import (
	"strconv"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// Wire types for the venue REST dialect. Venues quote numbers as strings;
// decimal fields are parsed on conversion.

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type depthResponse struct {
	Bids      [][]string `json:"bids"` // [[price, amount], ...]
	Asks      [][]string `json:"asks"`
	Timestamp int64      `json:"timestamp"` // unix milliseconds
}

type tickerResponse struct {
	Symbol    string `json:"symbol"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	Timestamp int64  `json:"timestamp"`
}

type balanceEntry struct {
	Asset string `json:"asset"`
	Free  string `json:"free"`
	Total string `json:"total"`
}

type balanceResponse struct {
	Balances []balanceEntry `json:"balances"`
}

type apiOrder struct {
	OrderID   string `json:"order_id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	Filled    string `json:"filled"`
	AvgPrice  string `json:"avg_price"`
	Fee       string `json:"fee"` // quote units
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"` // unix milliseconds
	ClosedAt  int64  `json:"closed_at"`  // unix milliseconds, 0 while open
}

type ordersResponse struct {
	Orders []apiOrder `json:"orders"`
}

type placeOrderRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Type   string `json:"type"`
	Amount string `json:"amount"`
	Price  string `json:"price,omitempty"`
}

func (d depthResponse) toOrderBook(exchange, symbol string) domain.OrderBook {
	book := domain.OrderBook{
		Exchange:  exchange,
		Symbol:    symbol,
		Bids:      toLevels(d.Bids),
		Asks:      toLevels(d.Asks),
		Timestamp: fromUnixMilli(d.Timestamp),
	}
	return book
}

func toLevels(raw [][]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		levels = append(levels, domain.PriceLevel{
			Price:  parseDecimal(pair[0]),
			Amount: parseDecimal(pair[1]),
		})
	}
	return levels
}

func (t tickerResponse) toTicker(exchange, symbol string) domain.Ticker {
	bid := parseDecimal(t.Bid)
	ask := parseDecimal(t.Ask)
	mid := 0.0
	switch {
	case bid > 0 && ask > 0:
		mid = (bid + ask) / 2
	case bid > 0:
		mid = bid
	case ask > 0:
		mid = ask
	}
	return domain.Ticker{
		Exchange:  exchange,
		Symbol:    symbol,
		MidPrice:  mid,
		Timestamp: fromUnixMilli(t.Timestamp),
	}
}

func (b balanceResponse) toBalance(exchange string) domain.Balance {
	bal := domain.Balance{
		Exchange: exchange,
		Free:     make(map[string]float64, len(b.Balances)),
		Total:    make(map[string]float64, len(b.Balances)),
	}
	for _, e := range b.Balances {
		bal.Free[e.Asset] = parseDecimal(e.Free)
		bal.Total[e.Asset] = parseDecimal(e.Total)
	}
	return bal
}

func (o apiOrder) toOrder(exchange string) domain.Order {
	ord := domain.Order{
		ID:        o.OrderID,
		Exchange:  exchange,
		Symbol:    o.Symbol,
		Side:      domain.OrderSide(o.Side),
		Type:      domain.OrderType(o.Type),
		Amount:    parseDecimal(o.Amount),
		Price:     parseDecimal(o.Price),
		Filled:    parseDecimal(o.Filled),
		AvgPrice:  parseDecimal(o.AvgPrice),
		FeeQuote:  parseDecimal(o.Fee),
		Status:    orderStatusOf(o.Status),
		CreatedAt: fromUnixMilli(o.CreatedAt),
	}
	if o.ClosedAt > 0 {
		t := fromUnixMilli(o.ClosedAt)
		ord.ClosedAt = &t
	}
	return ord
}

// orderStatusOf normalizes venue status strings. Unknown values map to open
// so the monitor keeps polling instead of settling on a guess.
func orderStatusOf(s string) domain.OrderStatus {
	switch s {
	case "open", "new", "partially_filled":
		return domain.OrderStatusOpen
	case "closed", "filled":
		return domain.OrderStatusClosed
	case "canceled", "cancelled":
		return domain.OrderStatusCanceled
	case "rejected":
		return domain.OrderStatusRejected
	case "expired":
		return domain.OrderStatusExpired
	default:
		return domain.OrderStatusOpen
	}
}

func parseDecimal(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fromUnixMilli(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
