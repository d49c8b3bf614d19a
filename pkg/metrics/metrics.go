package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache state metrics
	RecordsLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_records_live",
			Help: "Number of live records per cache",
		},
		[]string{"cache"},
	)

	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_commits_total",
			Help: "Total number of commits per cache",
		},
		[]string{"cache"},
	)

	WriteOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_write_operations_total",
			Help: "Total number of write operations by cache and kind",
		},
		[]string{"cache", "op"},
	)

	EvictedRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_evicted_records_total",
			Help: "Total number of records evicted by TTL per cache",
		},
		[]string{"cache"},
	)

	// Query metrics
	QueryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_query_duration_seconds",
			Help:    "Query execution duration by cache and plan kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cache", "plan"},
	)

	// Indexing metrics
	IndexPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_index_position",
			Help: "Operation log position each secondary index has replayed up to",
		},
		[]string{"cache", "index"},
	)

	IndexerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_indexer_runs_total",
			Help: "Indexing runs by outcome (caught_up, behind, failed)",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RecordsLive)
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(WriteOperationsTotal)
	prometheus.MustRegister(EvictedRecordsTotal)
	prometheus.MustRegister(QueryDurationSeconds)
	prometheus.MustRegister(IndexPositions)
	prometheus.MustRegister(IndexerRunsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts the metrics HTTP server on the given address
func StartMetricsServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
