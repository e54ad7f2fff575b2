package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryDuration tracks similarity query latency.
	// Labels: index, backend
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "uniguide",
			Subsystem: "index",
			Name:      "query_duration_seconds",
			Help:      "Duration of similarity queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"index", "backend"},
	)

	// RebuildsTotal counts rebuilds.
	// Labels: index, result (success, error)
	RebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uniguide",
			Subsystem: "index",
			Name:      "rebuilds_total",
			Help:      "Total number of index rebuilds by result",
		},
		[]string{"index", "result"},
	)

	// Records is the record count of the active generation.
	Records = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "uniguide",
			Subsystem: "index",
			Name:      "records",
			Help:      "Number of records in the active generation",
		},
		[]string{"index"},
	)

	// Generation is the active generation number, 0 when unloaded.
	Generation = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "uniguide",
			Subsystem: "index",
			Name:      "generation",
			Help:      "Active generation number, 0 when the index is not loaded",
		},
		[]string{"index"},
	)
)
