package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsTotal counts items by final outcome.
	// Labels: collection, outcome (indexed, failed)
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "semindex",
			Subsystem: "indexer",
			Name:      "items_total",
			Help:      "Total number of items processed by the batch upsert pipeline",
		},
		[]string{"collection", "outcome"},
	)

	// ChunkAttempts tracks store write attempts per chunk.
	ChunkAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "semindex",
			Subsystem: "indexer",
			Name:      "chunk_write_attempts",
			Help:      "Store write attempts needed per chunk",
			Buckets:   []float64{1, 2, 3, 5, 8},
		},
		[]string{"collection"},
	)
)
