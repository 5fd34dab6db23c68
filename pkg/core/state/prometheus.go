package state

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for monitoring service.
var (
	// commits prometheus metric.
	commits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of committed change batches",
			Name:      "ledger_commits_total",
			Namespace: "chit",
		},
	)
	// entries prometheus metric.
	entries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of entries under the current root",
			Name:      "ledger_entries",
			Namespace: "chit",
		},
	)
	// collected prometheus metric.
	collected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of tree nodes removed by garbage collection",
			Name:      "ledger_gc_removed_nodes_total",
			Namespace: "chit",
		},
	)
	// gcDuration prometheus metric.
	gcDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Help:      "Garbage collection pass duration",
			Name:      "ledger_gc_duration_seconds",
			Namespace: "chit",
		},
	)
)

func init() {
	prometheus.MustRegister(
		commits,
		entries,
		collected,
		gcDuration,
	)
}

func updateEntriesMetric(n uint64) {
	entries.Set(float64(n))
}
