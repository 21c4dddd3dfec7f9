package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		provisioningAttempts,
		provisioningLatencyMs,
		subscriptionsByStatus,
	)
}

var (
	provisioningAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_attempts_total",
			Help: "Panel user creation attempts per panel type and outcome.",
		},
		[]string{"panel_type", "outcome"},
	)

	provisioningLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioning_latency_ms",
			Help:    "Panel user creation latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"panel_type"},
	)

	subscriptionsByStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "Subscription status transitions applied.",
		},
		[]string{"to_status"},
	)
)

func IncProvisioning(panelType, outcome string) {
	provisioningAttempts.WithLabelValues(panelType, outcome).Inc()
}

func ObserveProvisioningLatency(panelType string, ms float64) {
	provisioningLatencyMs.WithLabelValues(panelType).Observe(ms)
}

func IncTransition(toStatus string) {
	subscriptionsByStatus.WithLabelValues(toStatus).Inc()
}
