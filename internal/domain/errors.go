package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")
)

// Failure kinds surfaced by gateways and the execution pipeline. Callers
// classify with errors.Is and decide whether to retry, cool down, or stop.
var (
	ErrNetworkTransient      = errors.New("transient network failure")
	ErrExchangeRejected      = errors.New("exchange rejected request")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrRiskRejected          = errors.New("risk check rejected")
	ErrPartialExecution      = errors.New("partial execution imbalance")
	ErrCompensationFailed    = errors.New("compensation order failed")
	ErrPortfolioUnavailable  = errors.New("portfolio value unavailable")
	ErrKillSwitch            = errors.New("kill switch triggered")
	ErrEngineBusy            = errors.New("trade already in flight")
	ErrConfiguration         = errors.New("invalid configuration")
)
