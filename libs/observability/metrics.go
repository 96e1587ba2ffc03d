package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposed via /metrics, grounded on the coinbase bot's
// prometheus.NewCounterVec/NewGaugeVec registration pattern.
var (
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_core_orders_placed_total", Help: "Orders placed, by terminal outcome"},
		[]string{"broker", "outcome"},
	)

	executionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "order_core_execution_latency_seconds", Help: "Broker placement latency"},
		[]string{"broker"},
	)

	riskCheckLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "order_core_risk_check_latency_seconds", Help: "Risk engine check latency"},
		[]string{"check"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "order_core_breaker_state", Help: "Circuit breaker state: 0=closed 1=half_open 2=open"},
		[]string{"breaker"},
	)

	portfolioQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "order_core_portfolio_queue_depth", Help: "Queued position updates awaiting drain"},
	)
)

func init() {
	prometheus.MustRegister(ordersPlaced, executionLatency, riskCheckLatency, breakerState, portfolioQueueDepth)
}

// RecordOrderPlaced increments the outcome counter for a terminal placement
// (§4.9 step 8: "success/failure counters are incremented on the terminal result").
func RecordOrderPlaced(broker, outcome string) {
	ordersPlaced.WithLabelValues(broker, outcome).Inc()
}

// RecordExecutionLatency records a broker placement's duration (§4.9 step 8).
func RecordExecutionLatency(broker string, d time.Duration) {
	executionLatency.WithLabelValues(broker).Observe(d.Seconds())
}

// RecordRiskCheckLatency records one risk check's duration, for the
// scheduler's metrics-snapshot job (§4.11).
func RecordRiskCheckLatency(check string, d time.Duration) {
	riskCheckLatency.WithLabelValues(check).Observe(d.Seconds())
}

// SetBreakerState publishes a breaker's numeric state for the metrics
// snapshot job (§4.11).
func SetBreakerState(breaker string, state int) {
	breakerState.WithLabelValues(breaker).Set(float64(state))
}

// SetPortfolioQueueDepth publishes the portfolio adapter's queued-update
// count for the metrics snapshot job (§4.11).
func SetPortfolioQueueDepth(depth int) {
	portfolioQueueDepth.Set(float64(depth))
}
