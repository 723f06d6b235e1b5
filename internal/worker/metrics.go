package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	// sweepCycles counts cycles by result (ok, error, skipped).
	sweepCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_cycles_total",
			Help: "Unread-notification sweep cycles by result.",
		},
		[]string{"result"},
	)

	// sweepNotifications counts notification attempts by result (sent, failed).
	sweepNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_notifications_total",
			Help: "Unread-message notifications by delivery result.",
		},
		[]string{"result"},
	)

	sweepDeferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweeper_deferred_conversations_total",
			Help: "Conversations pushed to the next cycle after a cycle timeout.",
		},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweeper_cycle_duration_seconds",
			Help:    "Duration of sweep cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(sweepCycles, sweepNotifications, sweepDeferred, sweepDuration)
}
