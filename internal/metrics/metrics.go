// Package metrics holds the Prometheus collectors for the credit system.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the credit-gated tool pipeline.
type Metrics struct {
	// Invocation metrics
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec

	// Gate metrics
	AccessChecksTotal *prometheus.CounterVec

	// Credit metrics
	CreditsDebited  *prometheus.CounterVec
	CreditsRefunded *prometheus.CounterVec
	WalletBalance   *prometheus.GaugeVec

	// Remote execution metrics
	RemoteDuration *prometheus.HistogramVec
	RemoteFailures *prometheus.CounterVec

	// Audit metrics
	UsageEntriesDropped prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		InvocationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aitools_invocations_total",
				Help: "Total tool invocations by terminal state",
			},
			[]string{"tool", "status"}, // status: succeeded, failed, denied
		),

		InvocationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aitools_invocation_duration_seconds",
				Help:    "End-to-end invocation duration including the remote call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),

		AccessChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aitools_access_checks_total",
				Help: "Gate decisions by outcome",
			},
			[]string{"tool", "outcome"}, // outcome: granted, or the denial kind
		),

		CreditsDebited: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aitools_credits_debited_total",
				Help: "Credits debited per tool",
			},
			[]string{"tool"},
		),

		CreditsRefunded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aitools_credits_refunded_total",
				Help: "Credits refunded after failed executions",
			},
			[]string{"tool"},
		),

		WalletBalance: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aitools_wallet_balance",
				Help: "Last observed wallet balance per user",
			},
			[]string{"user_id"},
		),

		RemoteDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aitools_remote_duration_seconds",
				Help:    "Remote AI function call duration",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		RemoteFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aitools_remote_failures_total",
				Help: "Remote AI call failures by kind",
			},
			[]string{"tool", "kind"}, // kind: error, timeout
		),

		UsageEntriesDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aitools_usage_entries_dropped_total",
				Help: "Usage log entries lost to a full buffer or exhausted retries",
			},
		),
	}
}
