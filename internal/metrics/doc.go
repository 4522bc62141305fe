// Package metrics declares the Prometheus metrics exported by the catalog.
//
// Metrics are registered with promauto on the default registry and served
// by promhttp at /metrics. They fall into a few groups:
//
//   - HTTP: request counts, durations and in-flight requests.
//   - Database: query counts and durations by operation, transaction
//     durations, rows affected, open connections.
//   - Search: fetch durations by pagination direction, page sizes, stale
//     results discarded, conditions compiled to an index or a scan.
//   - Aggregates: tag count recompute durations and the dirty queue length.
//   - Ingestion: files created, saved, removed, broken and restored, plus
//     retries of busy or locked store writes.
//   - Catalog: file, tag and location gauges refreshed by a Collector.
//
// InitializeMetrics pre-populates label combinations so dashboards show
// zero values before the first event.
package metrics
