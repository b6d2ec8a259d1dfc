package domain

import "time"

// TradeRecord is the flattened row written to CSV and Postgres for every
// finished attempt.
type TradeRecord struct {
	SessionID        string    `json:"session_id"`
	Timestamp        time.Time `json:"timestamp"`
	Symbol           string    `json:"symbol"`
	BuyExchange      string    `json:"buy_exchange"`
	SellExchange     string    `json:"sell_exchange"`
	BuyPrice         float64   `json:"buy_price"`
	SellPrice        float64   `json:"sell_price"`
	Amount           float64   `json:"amount"`
	NetProfitUSD     float64   `json:"net_profit_usd"`
	FeesPaidUSD      float64   `json:"fees_paid_usd"`
	FillRatio        float64   `json:"fill_ratio"`
	LatencyMs        int64     `json:"latency_ms"`
	Status           string    `json:"status"`
	RunningProfitUSD float64   `json:"running_profit_usd"`
}

// ScanRecord is one observed top-of-book row from a scan cycle.
type ScanRecord struct {
	Timestamp time.Time
	Symbol    string
	Exchange  string
	Bid       float64
	Ask       float64
}
