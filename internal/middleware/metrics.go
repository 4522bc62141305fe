package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/RafaUC/Allusion-sub000/internal/metrics"
)

// MetricsConfig holds configuration for the metrics middleware
type MetricsConfig struct {
	// SkipPaths are request paths that are not recorded at all.
	SkipPaths []string
	// StreamingRoutes are route templates whose requests are counted but
	// kept out of the duration histogram, since they stay open for as
	// long as the client listens.
	StreamingRoutes []string
}

// DefaultMetricsConfig returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		SkipPaths:       []string{"/metrics", "/health", "/healthz", "/livez", "/readyz"},
		StreamingRoutes: []string{"/api/events", "/api/export"},
	}
}

// Metrics returns a middleware that records Prometheus metrics. It must be
// installed with Router.Use so the matched route is known.
func Metrics(config MetricsConfig) func(http.Handler) http.Handler {
	skip := toLookup(config.SkipPaths)
	streaming := toLookup(config.StreamingRoutes)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			route := routePath(r)
			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			wrapped := newResponseWriter(w)
			start := time.Now()
			next.ServeHTTP(wrapped, r)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
			if !streaming[route] {
				metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			}
		})
	}
}

func toLookup(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}

// routePath labels a request by its route template, e.g. /api/tags/{id},
// so tag and file ids do not explode label cardinality.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath keeps the resource part of an unrouted path: the first
// two segments under /api, one segment elsewhere.
func normalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	keep := 1
	if parts[0] == "api" {
		keep = 2
	}
	if len(parts) <= keep {
		return path
	}
	return "/" + strings.Join(parts[:keep], "/") + "/{path}"
}
