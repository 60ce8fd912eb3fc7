package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search and index build Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geodex",
			Name:      "search_requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"status"}, // "success" / "invalid" / "not_ready" / "error"
	)

	SearchRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "geodex",
			Name:      "search_request_duration_seconds",
			Help:      "Search request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	IndexBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geodex",
			Name:      "index_builds_total",
			Help:      "Total index build attempts",
		},
		[]string{"outcome"}, // "built" / "cache_hit" / "reused" / "error"
	)

	IndexBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "geodex",
			Name:      "index_build_duration_seconds",
			Help:      "Index build duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	IndexRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "geodex",
			Name:      "index_records",
			Help:      "Record count of the active search index",
		},
	)

	IndexCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geodex",
			Name:      "index_cache_total",
			Help:      "Index artifact cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers Prometheus search metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchRequestDuration)
	prometheus.MustRegister(IndexBuildsTotal)
	prometheus.MustRegister(IndexBuildDuration)
	prometheus.MustRegister(IndexRecords)
	prometheus.MustRegister(IndexCacheTotal)
	searchMetricsRegistered = true
}
