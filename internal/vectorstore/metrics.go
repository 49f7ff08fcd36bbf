package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: op, collection, status (ok, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "semindex",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"op", "collection", "status"},
	)

	// OperationDuration tracks store operation latency.
	// Labels: op, collection
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "semindex",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "collection"},
	)

	// RecordsWritten counts records passed to successful upserts.
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "semindex",
			Subsystem: "vectorstore",
			Name:      "records_written_total",
			Help:      "Total number of records written by successful upserts",
		},
		[]string{"collection"},
	)
)

// recordOperation updates the operation counter and histogram.
func recordOperation(op, collection string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(op, collection, status).Inc()
	OperationDuration.WithLabelValues(op, collection).Observe(seconds)
}
