package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliations_total",
			Help: "Reconciliation runs by trigger and outcome",
		},
		[]string{"source", "outcome"},
	)

	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_transitions_total",
			Help: "Persisted purchase status transitions",
		},
		[]string{"from", "to"},
	)

	ticketsMaterialized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_materialized_total",
			Help: "Tickets created from completed purchases",
		},
	)

	inventoryShortfalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_shortfalls_total",
			Help: "Selection entries skipped during materialization",
		},
		[]string{"reason"},
	)

	payouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_operations_total",
			Help: "Payout scheduling and status updates",
		},
		[]string{"operation"},
	)

	amountDrift = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_amount_drift_total",
			Help: "Completed purchases whose provider net amount differs from the computed one",
		},
	)

	providerRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Duration of payment provider API calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 9),
		},
		[]string{"operation", "result"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half open, 2 open)",
		},
		[]string{"name"},
	)
)

// Track reconciliation outcome per trigger (webhook, poll, admin, sweeper).
func TrackReconciliation(source, outcome string) {
	reconciliations.WithLabelValues(source, outcome).Inc()
}

func TrackTransition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}

func TrackTicketsMaterialized(n int) {
	ticketsMaterialized.Add(float64(n))
}

func TrackInventoryShortfall(reason string) {
	inventoryShortfalls.WithLabelValues(reason).Inc()
}

func TrackPayout(operation string) {
	payouts.WithLabelValues(operation).Inc()
}

func TrackAmountDrift() {
	amountDrift.Inc()
}

func TrackProviderRequest(operation, result string, d time.Duration) {
	providerRequests.WithLabelValues(operation, result).Observe(d.Seconds())
}

func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}
