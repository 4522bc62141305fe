package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/RafaUC/Allusion-sub000/internal/aggregate"
	"github.com/RafaUC/Allusion-sub000/internal/catalog"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/handlers"
	"github.com/RafaUC/Allusion-sub000/internal/logging"
	"github.com/RafaUC/Allusion-sub000/internal/memory"
	"github.com/RafaUC/Allusion-sub000/internal/metrics"
	"github.com/RafaUC/Allusion-sub000/internal/middleware"
	"github.com/RafaUC/Allusion-sub000/internal/retry"
	"github.com/RafaUC/Allusion-sub000/internal/startup"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var path string
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "catalog",
		Short:         "Media catalog server",
		Long:          "Serves the tag tree, query engine and tag counts of a media catalog over a JSON API.",
		Version:       fmt.Sprintf("%s (%s)", startup.Version, startup.Commit),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := startup.InitConfig(v, path); err != nil {
				return err
			}
			return run(cmd.Context(), v)
		},
	}

	cmd.Flags().StringVar(&path, "config", "", "config file (default is ./config.yaml)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("log.level", cmd.Flags().Lookup("log-level"))

	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	startTime := time.Now()

	config, err := startup.LoadConfig(v)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	defer logging.Sync()

	if res := memory.Configure(config.Memory.Limit, config.Memory.Ratio); res.Configured {
		logging.Info("  Memory limit: %s (from %s)", memory.FormatBytes(res.GoMemLimit), res.Source)
	}

	metrics.InitializeMetrics()
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
	retry.SetObserver(metrics.NewRetryObserver())

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(ctx, config.Database.Path)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer func() { _ = db.Close() }()
	startup.LogDatabaseInit(time.Since(dbStart))

	// Load the tag graph and schedule stale counts
	catalogStart := time.Now()
	svc, err := catalog.Open(ctx, db, catalog.Config{
		Location:     config.Location,
		PageSize:     config.Search.PageSize,
		SaveDebounce: config.Timings.SaveDebounce,
		Aggregate: aggregate.Config{
			Debounce:  config.Timings.AggregateDebounce,
			BatchSize: config.Aggregate.BatchSize,
		},
		Retry: retry.Config{
			MaxRetries:     config.Import.MaxRetries,
			InitialBackoff: config.Timings.InitialBackoff,
			MaxBackoff:     config.Timings.MaxBackoff,
		},
	})
	if err != nil {
		startup.LogFatal("Failed to open catalog: %v", err)
	}
	stats, err := svc.Stats(ctx)
	if err != nil {
		logging.Warn("Failed to read catalog statistics: %v", err)
	}
	startup.LogCatalogInit(time.Since(catalogStart), stats, svc.PendingCounts())

	h := handlers.New(svc, handlers.Options{})

	var collector *metrics.Collector
	var metricsSrv *http.Server
	if config.Metrics.Enabled {
		collector = metrics.NewCollector(db, config.Timings.MetricsInterval)
		collector.Start()
		metricsSrv = startMetricsServer(config.Metrics.Port, h.MetricsHandler())
	}

	router := setupRouter(h)
	startup.LogHTTPRoutes(router, config.HTTP.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.HTTP.LogHealthChecks
	loggedHandler := middleware.Logger(loggingConfig)(router)

	compressionConfig := middleware.DefaultCompressionConfig()
	handler := middleware.Compression(compressionConfig)(loggedHandler)

	srv := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // exports and the event feed set their own deadlines
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	h.SetReady(true)
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.HTTP.Port,
		MetricsPort:     config.Metrics.Port,
		MetricsEnabled:  config.Metrics.Enabled,
		StartupDuration: time.Since(startTime),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		startup.LogShutdownInitiated(sig.String())
	case err := <-serverErr:
		startup.LogShutdownInitiated("server error")
		logging.Error("Server error: %v", err)
	}

	h.SetReady(false)
	shutdown(config.Timings.ShutdownTimeout, srv, metricsSrv, collector, svc)
	return nil
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(handlers.MethodNotAllowed)
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	// Health check and version routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.MethodNotAllowedHandler = r.MethodNotAllowedHandler

	// Search
	api.HandleFunc("/search", h.Search).Methods("POST")
	api.HandleFunc("/search/count", h.Count).Methods("POST")

	// Tags
	api.HandleFunc("/tags", h.ListTags).Methods("GET")
	api.HandleFunc("/tags", h.CreateTag).Methods("POST")
	api.HandleFunc("/tags/{id}", h.GetTag).Methods("GET")
	api.HandleFunc("/tags/{id}", h.UpdateTag).Methods("PUT")
	api.HandleFunc("/tags/{id}", h.DeleteTag).Methods("DELETE")
	api.HandleFunc("/tags/{id}/merge", h.MergeTag).Methods("POST")
	api.HandleFunc("/tags/{id}/move", h.MoveTag).Methods("POST")
	api.HandleFunc("/tags/{id}/aliases", h.SetAliases).Methods("PUT")
	api.HandleFunc("/tags/{id}/implies", h.AddImplication).Methods("POST")
	api.HandleFunc("/tags/{id}/implies/{implied}", h.RemoveImplication).Methods("DELETE")

	// Files
	api.HandleFunc("/files", h.RemoveFiles).Methods("DELETE")
	api.HandleFunc("/files/tags", h.TagFiles).Methods("POST")
	api.HandleFunc("/files/retag", h.RetagFiles).Methods("POST")
	api.HandleFunc("/files/{id}", h.GetFile).Methods("GET")
	api.HandleFunc("/files/{id}/properties/{property}", h.SetPropertyValue).Methods("PUT")
	api.HandleFunc("/files/{id}/properties/{property}", h.RemovePropertyValue).Methods("DELETE")

	// Saved searches
	api.HandleFunc("/searches", h.ListSavedSearches).Methods("GET")
	api.HandleFunc("/searches", h.SaveSearch).Methods("POST")
	api.HandleFunc("/searches/{id}", h.DeleteSearch).Methods("DELETE")

	// Locations and scanner reports
	api.HandleFunc("/locations", h.ListLocations).Methods("GET")
	api.HandleFunc("/locations", h.SaveLocation).Methods("POST")
	api.HandleFunc("/locations/{id}", h.SaveLocation).Methods("PUT")
	api.HandleFunc("/locations/{id}", h.DeleteLocation).Methods("DELETE")
	api.HandleFunc("/locations/{id}/files", h.AddFiles).Methods("POST")
	api.HandleFunc("/locations/{id}/compare", h.CompareFiles).Methods("POST")
	api.HandleFunc("/locations/{id}/apply", h.ApplyDiff).Methods("POST")

	// Extra properties
	api.HandleFunc("/properties", h.ListProperties).Methods("GET")
	api.HandleFunc("/properties", h.CreateProperty).Methods("POST")
	api.HandleFunc("/properties/{id}", h.RenameProperty).Methods("PUT")
	api.HandleFunc("/properties/{id}", h.DeleteProperty).Methods("DELETE")

	// Maintenance
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/recount", h.Recount).Methods("POST")
	api.HandleFunc("/export", h.Export).Methods("GET")
	api.HandleFunc("/import", h.Import).Methods("POST")
	api.HandleFunc("/events", h.Events).Methods("GET")

	return r
}

func startMetricsServer(port string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics server error: %v", err)
		}
	}()
	return srv
}

func shutdown(timeout time.Duration, srv, metricsSrv *http.Server, collector *metrics.Collector, svc *catalog.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if collector != nil {
		startup.LogShutdownStep("Stopping metrics collector")
		collector.Stop()
		startup.LogShutdownStepComplete("Metrics collector stopped")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownStep("Flushing pending saves and counts")
	if err := svc.Close(ctx); err != nil {
		logging.Warn("Catalog flush error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Catalog flushed")
	}

	startup.LogShutdownComplete()
}
