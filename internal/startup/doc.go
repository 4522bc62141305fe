// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// Configuration is read with viper from a YAML file (config.yaml in the
// working directory, ./config or $HOME/.catalog, or the path given with
// --config), then overridden by CATALOG_* environment variables. Nested
// keys use underscores, so http.port becomes CATALOG_HTTP_PORT. .env and
// .env.local files are loaded first.
//
// Supported keys, with defaults from [Defaults]:
//
//   - database.path: SQLite database file (./data/catalog.db)
//   - http.port: API server port (8080)
//   - http.log_health_checks: log /health requests (false)
//   - metrics.enabled, metrics.port, metrics.interval: Prometheus server (true, 9090, 1m)
//   - aggregate.debounce, aggregate.batch_size: tag count maintenance (300ms, 100)
//   - save.debounce: coalescing window for file saves (200ms)
//   - search.page_size, search.timezone: default page size and the zone
//     used for date conditions (200, Local)
//   - import.max_retries, import.initial_backoff, import.max_backoff:
//     retries of bulk writes while the database is busy (5, 50ms, 2s)
//   - memory.limit, memory.ratio: container limit in bytes and the share
//     given to GOMEMLIMIT (0, 0.85)
//   - log.level, log.json, log.file, log.rotation.*: logging backend
//   - shutdown_timeout: graceful shutdown budget (10s)
//
// Durations that fail to parse fall back to their defaults with a warning.
//
// # Lifecycle Logging
//
//   - [LoadConfig]: banner, system information and resolved configuration
//   - [LogDatabaseInit]: database initialization timing
//   - [LogCatalogInit]: catalog totals and stale tag counts
//   - [LogHTTPRoutes]: registered HTTP routes (debug level)
//   - [LogServerStarted]: server endpoints and startup duration
//   - [LogShutdownInitiated], [LogShutdownStep], [LogShutdownComplete]
package startup
