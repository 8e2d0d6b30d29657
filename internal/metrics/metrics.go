// Package metrics provides Prometheus metrics for the sync core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueEnqueuedTotal counts writes queued while offline.
	QueueEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Name:      "queue_enqueued_total",
			Help:      "Total number of writes queued while offline",
		},
	)

	// QueueAttemptsTotal counts drain attempts by outcome.
	QueueAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Name:      "queue_attempts_total",
			Help:      "Total number of queued write attempts by outcome",
		},
		[]string{"outcome"}, // completed, retry, failed
	)

	// QueuePending tracks the number of pending queue items after each drain.
	QueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "storysync",
			Name:      "queue_pending",
			Help:      "Number of pending items in the offline queue",
		},
	)

	// DrainDuration measures complete drain passes.
	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "storysync",
			Name:      "drain_duration_seconds",
			Help:      "Duration of offline queue drains in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ReadsTotal counts repository reads by source.
	ReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Name:      "reads_total",
			Help:      "Total number of story reads by operation and source",
		},
		[]string{"operation", "source"}, // source: network, cache
	)

	// StorageRetriesTotal counts retried local storage operations.
	StorageRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Name:      "storage_retries_total",
			Help:      "Total number of retried local storage operations",
		},
		[]string{"operation"},
	)

	// NetworkOnline is 1 while the network monitor reports online.
	NetworkOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "storysync",
			Name:      "network_online",
			Help:      "Network status (1 = online, 0 = offline)",
		},
	)
)

// RecordAttempt records the outcome of a single queued write attempt.
func RecordAttempt(outcome string) {
	QueueAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordRead records where a read was served from.
func RecordRead(operation, source string) {
	ReadsTotal.WithLabelValues(operation, source).Inc()
}

// RecordStorageRetry records a retried storage operation.
func RecordStorageRetry(operation string) {
	StorageRetriesTotal.WithLabelValues(operation).Inc()
}

// SetOnline sets the network gauge.
func SetOnline(online bool) {
	if online {
		NetworkOnline.Set(1)
		return
	}
	NetworkOnline.Set(0)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
