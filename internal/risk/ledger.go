// Package risk implements pre-trade capital checks, the deployment ledger,
// and cooldown bookkeeping for the arbitrage engine.
package risk

import (
	"sync"
	"time"
)

// Ledger tracks capital committed to in-flight trades and caches the most
// recent portfolio valuation. It is a process-wide singleton guarded by one
// mutex; commits and releases are explicit calls made by the orchestrator
// around a trade attempt's lifetime, never derived from balance queries
// (balances lag reality while orders are in flight).
type Ledger struct {
	mu           sync.Mutex
	deployedUSD  float64
	portfolioUSD float64
	portfolioAt  time.Time
}

// NewLedger returns an empty ledger with no cached portfolio value.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Commit adds usd to the deployed-capital counter.
func (l *Ledger) Commit(usd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deployedUSD += usd
}

// Release subtracts usd from the deployed-capital counter, clamping at zero.
func (l *Ledger) Release(usd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deployedUSD -= usd
	if l.deployedUSD < 0 {
		l.deployedUSD = 0
	}
}

// Deployed returns the capital currently committed to in-flight trades.
func (l *Ledger) Deployed() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deployedUSD
}

// SetPortfolio caches a portfolio valuation taken at the given time.
func (l *Ledger) SetPortfolio(totalUSD float64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.portfolioUSD = totalUSD
	l.portfolioAt = at
}

// Portfolio returns the cached valuation with its timestamp. ok is false
// when no valuation has ever been recorded.
func (l *Ledger) Portfolio() (totalUSD float64, at time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.portfolioUSD, l.portfolioAt, !l.portfolioAt.IsZero()
}
