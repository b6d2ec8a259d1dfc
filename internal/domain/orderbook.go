package domain

import "time"

// PriceLevel is a single price+amount entry in an orderbook.
type PriceLevel struct {
	Price  float64
	Amount float64
}

// OrderBook is a depth snapshot for one symbol on one exchange.
// Bids descend and asks ascend by price, as returned by the venue.
type OrderBook struct {
	Exchange  string
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the top-of-book bid, or false when the bid side is empty.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top-of-book ask, or false when the ask side is empty.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Ticker is a lightweight price point for one symbol on one exchange.
type Ticker struct {
	Exchange  string
	Symbol    string
	MidPrice  float64
	Timestamp time.Time
}

// Balance holds per-asset balances on one exchange.
type Balance struct {
	Exchange string
	Free     map[string]float64
	Total    map[string]float64
}

// FreeOf returns the free balance for one asset, 0 when absent.
func (b Balance) FreeOf(asset string) float64 { return b.Free[asset] }

// TotalOf returns the total balance for one asset, 0 when absent.
func (b Balance) TotalOf(asset string) float64 { return b.Total[asset] }
