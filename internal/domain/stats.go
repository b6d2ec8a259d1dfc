package domain

import "time"

// Stats is a snapshot of the session counters kept by the engine.
type Stats struct {
	SessionID        string       `json:"session_id"`
	Status           EngineStatus `json:"status"`
	StartedAt        time.Time    `json:"started_at"`
	Scans            int64        `json:"scans"`
	Opportunities    int64        `json:"opportunities"`
	Trades           int64        `json:"trades"`
	Successful       int64        `json:"successful"`
	PartialSuccesses int64        `json:"partial_successes"`
	Failed           int64        `json:"failed"`
	Canceled         int64        `json:"canceled"`
	CriticalStuck    int64        `json:"critical_stuck"`
	RiskRejected     int64        `json:"risk_rejected"`
	SessionNetUSD    float64      `json:"session_net_usd"`
	FeesPaidUSD      float64      `json:"fees_paid_usd"`
	WinRatePct       float64      `json:"win_rate_pct"`
	DeployedUSD      float64      `json:"deployed_usd"`
	PortfolioUSD     float64      `json:"portfolio_usd"`
}
