package startup

import (
	"cmp"
	"fmt"
	"maps"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/RafaUC/Allusion-sub000/internal/logging"
	"github.com/RafaUC/Allusion-sub000/internal/metrics"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

const rule = "------------------------------------------------------------"

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo is one method and path template of the router.
type RouteInfo struct {
	Method string
	Path   string
}

// section starts a titled block of startup output.
func section(title string, args ...any) {
	logging.Info("")
	logging.Info(rule)
	logging.Info(title, args...)
	logging.Info(rule)
}

// field logs one aligned "label: value" line inside a section.
func field(label string, value any) {
	logging.Info("  %-18s %v", label+":", value)
}

func ok(format string, args ...any) {
	logging.Info("  [OK] "+format, args...)
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	section("DATABASE INITIALIZATION")
	ok("Database opened and migrated in %v", duration)
}

// LogCatalogInit logs the loaded catalog and the tag counts left to
// recompute from a previous run.
func LogCatalogInit(duration time.Duration, stats metrics.Stats, pending int) {
	section("CATALOG INITIALIZATION")
	field("Files", stats.TotalFiles)
	field("Untagged", stats.UntaggedFiles)
	field("Missing", stats.MissingFiles)
	field("Tags", stats.TotalTags)
	field("Locations", stats.TotalLocations)
	if pending > 0 {
		field("Stale tag counts", fmt.Sprintf("%d (recomputing in background)", pending))
	}
	ok("Tag tree loaded in %v", duration)
}

// GetRoutes lists every method and path template registered on router,
// sorted by path.
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		tmpl, err := route.GetPathTemplate()
		if err != nil {
			return err
		}
		methods, err := route.GetMethods()
		if err != nil {
			// Subrouters and prefix routes carry no methods.
			return nil
		}
		for _, m := range methods {
			routes = append(routes, RouteInfo{Method: m, Path: tmpl})
		}
		return nil
	})
	slices.SortStableFunc(routes, func(a, b RouteInfo) int {
		return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.Method, b.Method))
	})
	return routes, err
}

// LogHTTPRoutes summarizes the API by resource; the full route table is
// logged at debug level.
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	section("HTTP SERVER SETUP")

	routes, err := GetRoutes(router)
	if err != nil {
		logging.Warn("  error walking routes: %v", err)
	}

	perGroup := make(map[string]int)
	for _, r := range routes {
		perGroup[getRouteGroup(r.Path)]++
	}
	for _, g := range slices.Sorted(maps.Keys(perGroup)) {
		field(cmp.Or(g, "root"), fmt.Sprintf("%d routes", perGroup[g]))
	}

	if logging.IsDebugEnabled() {
		logging.Debug("")
		for _, r := range routes {
			logging.Debug("    %-6s %s", r.Method, r.Path)
		}
	}

	if logHealthChecks {
		field("Health check logs", "ON")
	} else {
		field("Health check logs", "OFF (set CATALOG_HTTP_LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup names the resource a path belongs to: "api/tags" for
// /api/tags/{id}/merge, "health" for /health.
func getRouteGroup(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if parts[0] == "api" && len(parts) > 1 {
		return "api/" + parts[1]
	}
	return parts[0]
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	section("SERVER STARTED")
	field("Startup time", config.StartupDuration)
	field("API", fmt.Sprintf("http://0.0.0.0:%s/api", config.Port))
	field("Change feed", fmt.Sprintf("http://0.0.0.0:%s/api/events", config.Port))
	if config.MetricsEnabled {
		field("Metrics", fmt.Sprintf("http://0.0.0.0:%s/metrics", config.MetricsPort))
	} else {
		field("Metrics", "DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info(rule)
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	section("SHUTDOWN INITIATED (received %s)", signal)
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	ok("%s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	ok("Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	fmt.Println(rule)
	fmt.Println("  catalog: tag graph and query engine for media libraries")
	fmt.Println(rule)
	field("Version", Version)
	field("Commit", Commit)
	field("Build time", BuildTime)
	field("Started", time.Now().Format(time.RFC1123))
}

func logSystemInfo() {
	section("SYSTEM INFORMATION")
	field("Go version", runtime.Version())
	field("OS/Arch", runtime.GOOS+"/"+runtime.GOARCH)
	field("CPUs available", runtime.NumCPU())
	field("GOMAXPROCS", runtime.GOMAXPROCS(0))

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:       %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:          %s", hostname)
		}
	}
}

// logConfiguration prints the effective settings after defaults, the
// config file and the environment are merged.
func logConfiguration(cfg *Config, file string) {
	section("CONFIGURATION")
	field("Config file", cmp.Or(file, "(none, using defaults and environment)"))
	field("database.path", cfg.Database.Path)
	field("http.port", cfg.HTTP.Port)
	field("metrics.enabled", cfg.Metrics.Enabled)
	if cfg.Metrics.Enabled {
		field("metrics.port", cfg.Metrics.Port)
	}
	field("aggregate.debounce", cfg.Timings.AggregateDebounce)
	field("save.debounce", cfg.Timings.SaveDebounce)
	field("search.page_size", cfg.Search.PageSize)
	field("search.timezone", cfg.Location)
	field("import.max_retries", cfg.Import.MaxRetries)
	field("log.level", logging.GetLevel())
	if cfg.Log.File != "" {
		field("log.file", cfg.Log.File)
	}
}
