package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DeleteFailures counts best-effort deletions that failed.
// Labels: op, collection
var DeleteFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "semindex",
		Subsystem: "index",
		Name:      "delete_failures_total",
		Help:      "Total number of best-effort deletions that failed",
	},
	[]string{"op", "collection"},
)
