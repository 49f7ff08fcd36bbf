package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CollectionFailures counts per-collection queries excluded from a search.
	CollectionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "semindex",
			Subsystem: "search",
			Name:      "collection_failures_total",
			Help:      "Total number of collection queries that failed and were excluded",
		},
		[]string{"collection"},
	)

	// RerankFallbacks counts searches that fell back to score order.
	// Labels: reason (error, empty)
	RerankFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "semindex",
			Subsystem: "search",
			Name:      "rerank_fallbacks_total",
			Help:      "Total number of searches that fell back to score order after rerank",
		},
		[]string{"reason"},
	)

	// Duration tracks end-to-end search latency.
	Duration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "semindex",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Duration of search requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
