// Package main provides the entry point for the catalog server.
//
// The server keeps a media catalog's tag tree, implication graph and tag
// counts in memory over a SQLite store and answers query trees over a JSON
// API. A separate disk scanner reports files through the locations API.
//
// # Application Lifecycle
//
//  1. Configuration: viper reads defaults, an optional config.yaml, .env
//     files and CATALOG_* environment variables; --log-level overrides
//     log.level
//  2. Logging and memory: the zap backend is configured and GOMEMLIMIT set
//     from memory.limit when given
//  3. Database: the SQLite store is opened and migrated
//  4. Catalog: the tag graph and property definitions are loaded and stale
//     tag counts scheduled for recomputation
//  5. Metrics: the collector refreshes catalog gauges and a separate server
//     exposes /metrics (optional)
//  6. HTTP: routes are registered, wrapped in metrics, logging and
//     compression middleware, and the server reports ready
//  7. Shutdown: on SIGINT/SIGTERM the server drains, the collector stops and
//     pending saves and counts are flushed
//
// # HTTP Server
//
// The application runs two HTTP servers:
//
//  1. Main Server (default port 8080): the /api routes and health probes
//  2. Metrics Server (default port 9090, optional): /metrics
//
// Use catalogctl for offline maintenance (recount, export, import, stats,
// vacuum and config generation).
package main
