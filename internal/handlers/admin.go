package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/streaming"
)

// StatsResponse summarizes the catalog.
type StatsResponse struct {
	TotalFiles     int       `json:"totalFiles"`
	UntaggedFiles  int       `json:"untaggedFiles"`
	MissingFiles   int       `json:"missingFiles"`
	TotalTags      int       `json:"totalTags"`
	TotalLocations int       `json:"totalLocations"`
	PendingCounts  int       `json:"pendingCounts"`
	LastRecount    time.Time `json:"lastRecount,omitzero"`
}

// GetStats returns catalog statistics read from the store.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.catalog.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	last, err := h.catalog.LastRecount(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatusCode(w, StatsResponse{
		TotalFiles:     stats.TotalFiles,
		UntaggedFiles:  stats.UntaggedFiles,
		MissingFiles:   stats.MissingFiles,
		TotalTags:      stats.TotalTags,
		TotalLocations: stats.TotalLocations,
		PendingCounts:  h.catalog.PendingCounts(),
		LastRecount:    last,
	}, http.StatusOK)
}

// Export streams the full catalog as a JSON snapshot.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	snap, err := h.catalog.Export(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(json.NewEncoder(pw).Encode(snap))
	}()
	defer func() { _ = pr.Close() }()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="catalog-export.json"`)
	if err := streaming.StreamWithTimeout(r.Context(), w, pr, h.stream); err != nil {
		if errors.Is(err, streaming.ErrClientGone) {
			h.log.Debug("export aborted by client")
			return
		}
		h.log.Warn("export stream failed: %v", err)
	}
}

// Import replaces the catalog with an uploaded snapshot and recomputes
// every tag count before responding.
func (h *Handlers) Import(w http.ResponseWriter, r *http.Request) {
	var snap database.Snapshot
	if err := decodeJSON(w, r, &snap, maxImportBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.catalog.Import(r.Context(), &snap); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("Imported snapshot: %d files, %d tags", len(snap.Files), len(snap.Tags))
	writeJSONStatusCode(w, h.catalog.Counts(), http.StatusOK)
}

// Recount recomputes every tag count and the global counters.
func (h *Handlers) Recount(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := h.catalog.Recount(r.Context(), func(done, total int) {
		h.log.Debug("recount progress: %d/%d", done, total)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("Recounted %d tags in %v", h.catalog.Graph().Len(), time.Since(start))
	writeJSONStatusCode(w, h.catalog.Counts(), http.StatusOK)
}
