package domain

import "time"

// AssetHolding is one asset's aggregate position across all exchanges.
type AssetHolding struct {
	Asset    string
	Amount   float64
	USDValue float64
	Pct      float64 // share of total portfolio value, 0..100
}

// PortfolioSnapshot is a point-in-time USD valuation across all exchanges.
type PortfolioSnapshot struct {
	TotalUSD   float64
	Assets     map[string]AssetHolding       // asset -> aggregate holding
	ByExchange map[string]map[string]float64 // exchange -> asset -> amount
	TakenAt    time.Time
}

// Age returns how old the snapshot is relative to now.
func (s PortfolioSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.TakenAt)
}
