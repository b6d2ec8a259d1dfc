package domain

import "time"

// EngineStatus is the externally visible run state of the engine.
type EngineStatus string

const (
	StatusIdle     EngineStatus = "idle"
	StatusRunning  EngineStatus = "running"
	StatusStopping EngineStatus = "stopping"
	StatusStopped  EngineStatus = "stopped"
	StatusStuck    EngineStatus = "critical_stuck"
)

// EventType enumerates engine lifecycle notifications.
type EventType string

const (
	EventOpportunityFound EventType = "opportunity_found"
	EventTradeStarted     EventType = "trade_started"
	EventTradeFinished    EventType = "trade_finished"
	EventStatusChange     EventType = "status_change"
	EventError            EventType = "error"
)

// Event is a typed engine notification fanned out to subscribers.
// Only the fields relevant to the event's type are populated.
type Event struct {
	Type        EventType     `json:"type"`
	At          time.Time     `json:"at"`
	Opportunity *Opportunity  `json:"opportunity,omitempty"`
	Attempt     *TradeAttempt `json:"attempt,omitempty"`
	Status      EngineStatus  `json:"status,omitempty"`
	Err         string        `json:"error,omitempty"`
}
