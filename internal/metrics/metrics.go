// Package metrics exposes Prometheus instrumentation for the trading engine.
// Collectors register on the default registry; the HTTP server serves them
// under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ScansTotal counts scan cycles by outcome.
var ScansTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossbot",
		Subsystem: "engine",
		Name:      "scans_total",
		Help:      "Total number of scan cycles",
	},
	[]string{"result"}, // ok, error
)

// OpportunitiesTotal counts surfaced opportunities.
var OpportunitiesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossbot",
		Subsystem: "engine",
		Name:      "opportunities_total",
		Help:      "Total number of profitable opportunities surfaced",
	},
	[]string{"symbol"},
)

// OpportunityNet observes the expected net profit of surfaced opportunities.
var OpportunityNet = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "crossbot",
		Subsystem: "engine",
		Name:      "opportunity_net_usd",
		Help:      "Expected net profit of surfaced opportunities in USD",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	},
	[]string{"symbol"},
)

// AttemptsTotal counts executed attempts by terminal state.
var AttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossbot",
		Subsystem: "engine",
		Name:      "attempts_total",
		Help:      "Total number of trade attempts by terminal state",
	},
	[]string{"symbol", "state"},
)

// AttemptLatency observes trade attempt duration from start to terminal state.
var AttemptLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "crossbot",
		Subsystem: "engine",
		Name:      "attempt_latency_ms",
		Help:      "Trade attempt duration in milliseconds",
		Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	},
	[]string{"symbol"},
)

// SessionNetUSD tracks realized session profit. A gauge because losses move
// it down.
var SessionNetUSD = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "crossbot",
		Subsystem: "engine",
		Name:      "session_net_usd",
		Help:      "Realized session net profit in USD",
	},
)

// DeployedUSD tracks capital currently committed to in-flight attempts.
var DeployedUSD = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "crossbot",
		Subsystem: "risk",
		Name:      "deployed_usd",
		Help:      "Capital currently deployed in USD",
	},
)

// PortfolioUSD tracks the last portfolio valuation.
var PortfolioUSD = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "crossbot",
		Subsystem: "risk",
		Name:      "portfolio_usd",
		Help:      "Last portfolio valuation in USD",
	},
)

// EngineStatus is a one-hot gauge over lifecycle states.
var EngineStatus = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "crossbot",
		Subsystem: "engine",
		Name:      "status",
		Help:      "Engine lifecycle state (1 for the current state)",
	},
	[]string{"status"},
)

// RebalanceOrdersTotal counts sells placed by the rebalancer.
var RebalanceOrdersTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "crossbot",
		Subsystem: "rebalancer",
		Name:      "orders_total",
		Help:      "Total number of rebalancing sell orders placed",
	},
)

var knownStatuses = []string{"idle", "running", "stopping", "stopped", "critical_stuck"}

// RecordScan counts one scan cycle.
func RecordScan(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	ScansTotal.WithLabelValues(result).Inc()
}

// RecordOpportunity counts a surfaced opportunity and observes its edge.
func RecordOpportunity(symbol string, netUSD float64) {
	OpportunitiesTotal.WithLabelValues(symbol).Inc()
	OpportunityNet.WithLabelValues(symbol).Observe(netUSD)
}

// RecordAttempt folds one terminal attempt into the counters.
func RecordAttempt(symbol, state string, latencyMs int64) {
	AttemptsTotal.WithLabelValues(symbol, state).Inc()
	AttemptLatency.WithLabelValues(symbol).Observe(float64(latencyMs))
}

// UpdateEngineStatus flips the one-hot status gauge.
func UpdateEngineStatus(status string) {
	for _, s := range knownStatuses {
		v := 0.0
		if s == status {
			v = 1.0
		}
		EngineStatus.WithLabelValues(s).Set(v)
	}
}

// UpdateCapital refreshes the deployed and portfolio gauges.
func UpdateCapital(deployedUSD, portfolioUSD float64) {
	DeployedUSD.Set(deployedUSD)
	PortfolioUSD.Set(portfolioUSD)
}

// UpdateSessionNet refreshes the session profit gauge.
func UpdateSessionNet(usd float64) {
	SessionNetUSD.Set(usd)
}

// RecordRebalanceOrders counts sells placed during one rebalance cycle.
func RecordRebalanceOrders(n int) {
	if n > 0 {
		RebalanceOrdersTotal.Add(float64(n))
	}
}
