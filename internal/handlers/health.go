package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Error   string `json:"error,omitempty"`

	// Catalog summary
	TotalFiles    int    `json:"totalFiles"`
	UntaggedFiles int    `json:"untaggedFiles"`
	MissingFiles  int    `json:"missingFiles"`
	TotalTags     int    `json:"totalTags"`
	PendingCounts int    `json:"pendingCounts"`
	LastRecount   string `json:"lastRecount,omitempty"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ready := h.ready.Load()
	counts := h.catalog.Counts()

	response := HealthResponse{
		Status:        statusHealthy,
		Ready:         ready,
		Version:       startup.Version,
		Uptime:        time.Since(h.started).Round(time.Second).String(),
		TotalFiles:    counts.Total,
		UntaggedFiles: counts.Untagged,
		MissingFiles:  counts.Missing,
		TotalTags:     h.catalog.Graph().Len(),
		PendingCounts: h.catalog.PendingCounts(),
		GoVersion:     runtime.Version(),
		NumCPU:        runtime.NumCPU(),
		NumGoroutine:  runtime.NumGoroutine(),
	}

	if !ready {
		response.Status = statusStarting
	}

	last, err := h.catalog.LastRecount(r.Context())
	if err != nil {
		response.Status = statusDegraded
		response.Error = "database unavailable"
		h.log.Warn("health check: %v", err)
	} else if !last.IsZero() {
		response.LastRecount = last.Format(time.RFC3339)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSONStatusCode(w, response, status)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}

// ReadinessCheck returns 200 only when the service is ready to accept traffic
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if h.ready.Load() {
		writeJSONStatusCode(w, map[string]string{"status": "ready"}, http.StatusOK)
		return
	}
	writeJSONStatusCode(w, map[string]string{"status": "not_ready"}, http.StatusServiceUnavailable)
}
