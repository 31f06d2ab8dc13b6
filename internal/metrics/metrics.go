// Package metrics holds the Prometheus collectors of the fan-out service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fan-out event labels.
const (
	EventPost     = "post"
	EventFollow   = "follow"
	EventUnfollow = "unfollow"
)

var (
	FanoutWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_writes_total",
		Help: "Multi-location writes submitted by the fan-out engine.",
	}, []string{"event"})

	FanoutWritePaths = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fanout_write_paths",
		Help:    "Number of locations in one fan-out write.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"event"})

	FanoutPartialFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_partial_failures_total",
		Help: "Fan-out operations that failed after an earlier step committed.",
	}, []string{"event"})

	CounterDrift = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counter_drift_total",
		Help: "Counter updates that failed after the primary write committed.",
	}, []string{"counter"})

	TimelineJoinDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeline_join_dropped_total",
		Help: "Timeline entries dropped because the referenced post could not be read.",
	})

	ReconcileCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_corrections_total",
		Help: "Values rewritten by the reconciliation job.",
	}, []string{"kind"})
)

// ObserveFanout records one submitted fan-out write of n locations.
func ObserveFanout(event string, n int) {
	FanoutWrites.WithLabelValues(event).Inc()
	FanoutWritePaths.WithLabelValues(event).Observe(float64(n))
}
