package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsRequested,
		paymentsVerified,
		paymentsRevenueToman,
	)
}

var (
	paymentsRequested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_requested_total",
			Help: "Payment intents created per provider.",
		},
		[]string{"provider"},
	)

	paymentsVerified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_verified_total",
			Help: "Payment verification outcomes per provider.",
		},
		[]string{"provider", "outcome"},
	)

	paymentsRevenueToman = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_toman_total",
			Help: "Sum of verified payment amounts in Toman per provider.",
		},
		[]string{"provider"},
	)
)

func IncPaymentRequested(provider string) {
	paymentsRequested.WithLabelValues(provider).Inc()
}

func IncPaymentVerified(provider, outcome string) {
	paymentsVerified.WithLabelValues(provider, outcome).Inc()
}

func AddRevenueToman(provider string, amount int64) {
	paymentsRevenueToman.WithLabelValues(provider).Add(float64(amount))
}
