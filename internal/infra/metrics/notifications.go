package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(notificationsSent)
}

var notificationsSent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Outbound notifications per channel and outcome.",
	},
	[]string{"channel", "outcome"},
)

func IncNotification(channel, outcome string) {
	notificationsSent.WithLabelValues(channel, outcome).Inc()
}
