package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"outcome"}, // "commit", "rollback"
	)

	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_db_rows_affected",
			Help:    "Rows affected by write operations",
			Buckets: []float64{0, 1, 10, 100, 500, 1000, 5000, 10000},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Search metrics
var (
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_search_duration_seconds",
			Help:    "Duration of search fetches in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"direction"}, // "initial", "after", "before", "count"
	)

	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_search_results",
			Help:    "Number of files returned per search page",
			Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
		},
	)

	SearchStaleDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_search_stale_discarded_total",
			Help: "Search results discarded because a newer fetch superseded them",
		},
	)

	CompiledConditions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_compiled_conditions_total",
			Help: "Compiled conditions by value type and evaluation path",
		},
		[]string{"value_type", "path"}, // path: "index", "scan"
	)

	ScannedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_search_scanned_rows_total",
			Help: "Rows read from the store and tested against residual filters",
		},
	)
)

// Aggregate metrics
var (
	AggregateRecomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_aggregate_recompute_duration_seconds",
			Help:    "Duration of tag count recomputation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"kind"}, // "drain", "full", "globals"
	)

	AggregateDirtyQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_aggregate_dirty_queue_length",
			Help: "Number of tags waiting for a count recomputation",
		},
	)

	AggregateTagsRecomputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_aggregate_tags_recomputed_total",
			Help: "Total number of tag counts recomputed",
		},
	)
)

// Ingestion metrics
var (
	IngestFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_ingest_files_total",
			Help: "Files handled by ingestion operations",
		},
		[]string{"operation"}, // "created", "saved", "removed", "broken", "restored"
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_retry_attempts_total",
			Help: "Retries of store operations that hit a busy or locked database",
		},
		[]string{"operation"},
	)

	RetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_retry_failures_total",
			Help: "Store operations that still failed after every retry",
		},
		[]string{"operation"},
	)

	RetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_retry_duration_seconds",
			Help:    "Total time spent in a retried store operation",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation"},
	)
)

// Catalog metrics
var (
	CatalogFilesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_files_total",
			Help: "Number of files by state",
		},
		[]string{"state"}, // "all", "untagged", "missing"
	)

	CatalogTagsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_tags_total",
			Help: "Total number of tags",
		},
	)

	CatalogLocationsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_locations_total",
			Help: "Total number of locations",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
