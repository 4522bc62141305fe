package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RafaUC/Allusion-sub000/internal/metrics"
)

// MetricsHandler serves Prometheus metrics. Every scrape first copies the
// length of the pending tag count queue into its gauge, so the value is
// current even while no recomputation is running.
func (h *Handlers) MetricsHandler() http.Handler {
	prom := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.AggregateDirtyQueueLength.Set(float64(h.catalog.PendingCounts()))
		prom.ServeHTTP(w, r)
	})
}
