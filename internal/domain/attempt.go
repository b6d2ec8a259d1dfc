package domain

import "time"

// AttemptState tracks a dual-leg trade through its lifecycle.
type AttemptState string

const (
	AttemptPendingRisk  AttemptState = "pending_risk_check"
	AttemptRejected     AttemptState = "rejected"
	AttemptSubmitting   AttemptState = "submitting"
	AttemptAwaitingFill AttemptState = "awaiting_fill"
	AttemptNeutralizing AttemptState = "neutralizing"
	AttemptSuccess      AttemptState = "success"
	AttemptPartial      AttemptState = "partial_success"
	AttemptFailed       AttemptState = "failed"
	AttemptCanceled     AttemptState = "canceled"
	AttemptStuck        AttemptState = "critical_stuck"
)

// Terminal reports whether the attempt makes no further transitions.
func (s AttemptState) Terminal() bool {
	switch s {
	case AttemptRejected, AttemptSuccess, AttemptPartial, AttemptFailed, AttemptCanceled, AttemptStuck:
		return true
	}
	return false
}

// TradeAttempt is a single two-legged arbitrage execution.
type TradeAttempt struct {
	ID          string
	Opportunity Opportunity
	State       AttemptState
	BuyOrder    *Order
	SellOrder   *Order
	CompOrder   *Order  // compensating order when leg fills came out uneven
	NetQuote    float64 // realized net profit in quote units
	FeesQuote   float64
	FillRatio   float64
	LatencyMs   int64
	Reason      string // cause for rejected/failed/stuck states
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Duration returns wall time from start to completion, or to now while running.
func (a TradeAttempt) Duration(now time.Time) time.Duration {
	if a.CompletedAt != nil {
		return a.CompletedAt.Sub(a.StartedAt)
	}
	return now.Sub(a.StartedAt)
}
