package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(notificationsTotal) }

var notificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docqa_notifications_total",
		Help: "Job update notifications by sink and result.",
	},
	[]string{"sink", "result"}, // result: 'sent', 'dropped', 'error'
)

func IncNotification(sink, result string) {
	notificationsTotal.WithLabelValues(norm(sink), norm(result)).Inc()
}
