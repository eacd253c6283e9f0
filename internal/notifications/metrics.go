package notifications

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cronograma"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Number of queue entries by status",
		},
		[]string{"status"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Total delivery attempts by reminder kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver one reminder",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	claimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "claimed_total",
			Help:      "Total queue entries claimed by delivery runs",
		},
	)
)

// recordDelivery records one delivery outcome.
func recordDelivery(kind ReminderKind, outcome string) {
	deliveries.WithLabelValues(string(kind), outcome).Inc()
}

// observeSendDuration records one send latency.
func observeSendDuration(seconds float64) {
	sendDuration.Observe(seconds)
}

// recordFetched records the number of entries claimed for a run.
func recordFetched(count int) {
	claimedTotal.Add(float64(count))
}

// RecordQueueStats updates the queue size gauges.
func RecordQueueStats(stats *QueueStats) {
	queueSize.WithLabelValues(string(QueueStatusPending)).Set(float64(stats.Pending))
	queueSize.WithLabelValues(string(QueueStatusClaimed)).Set(float64(stats.Claimed))
	queueSize.WithLabelValues(string(QueueStatusSent)).Set(float64(stats.Sent))
	queueSize.WithLabelValues(string(QueueStatusRetryable)).Set(float64(stats.Retryable))
	queueSize.WithLabelValues(string(QueueStatusFailed)).Set(float64(stats.Failed))
	queueSize.WithLabelValues(string(QueueStatusCancelled)).Set(float64(stats.Cancelled))
}
