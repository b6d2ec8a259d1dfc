package domain

import (
	"strings"
	"time"
)

// Opportunity is a priced cross-exchange spread that cleared the profit floor.
type Opportunity struct {
	ID           string
	Symbol       string // "BTC/USDT"
	BuyExchange  string
	SellExchange string
	BuyPrice     float64 // best ask on the buy venue
	SellPrice    float64 // best bid on the sell venue
	Amount       float64 // base units sized from the quote stake
	GrossQuote   float64 // (sell-buy)*amount before fees
	FeeQuote     float64 // round-trip taker fees
	NetQuote     float64 // gross minus fees
	DetectedAt   time.Time
}

// Base returns the base asset of the symbol ("BTC" for "BTC/USDT").
func (o Opportunity) Base() string {
	if base, _, ok := strings.Cut(o.Symbol, "/"); ok {
		return base
	}
	return o.Symbol
}

// Quote returns the quote asset of the symbol ("USDT" for "BTC/USDT").
func (o Opportunity) Quote() string {
	if _, quote, ok := strings.Cut(o.Symbol, "/"); ok {
		return quote
	}
	return ""
}
