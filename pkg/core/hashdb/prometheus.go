package hashdb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for monitoring service.
var (
	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of blob reads served from the cache",
			Name:      "hashdb_cache_hits_total",
			Namespace: "chit",
		},
	)
	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of blob reads that went to the store",
			Name:      "hashdb_cache_misses_total",
			Namespace: "chit",
		},
	)
	blobWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of blob references added",
			Name:      "hashdb_blob_writes_total",
			Namespace: "chit",
		},
	)
	blobDeletions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of blobs physically removed",
			Name:      "hashdb_blob_deletions_total",
			Namespace: "chit",
		},
	)
)

func init() {
	prometheus.MustRegister(
		cacheHits,
		cacheMisses,
		blobWrites,
		blobDeletions,
	)
}
