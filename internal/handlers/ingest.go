package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/RafaUC/Allusion-sub000/internal/catalog"
)

// maxScanBytes caps scanner reports, which list every file of a location.
const maxScanBytes = 256 << 20

// ScanRequest is a scanner report for one location.
type ScanRequest struct {
	Files []catalog.FileStats `json:"files"`
}

// RemoveFilesRequest lists files to delete from the catalog.
type RemoveFilesRequest struct {
	FileIDs []string `json:"fileIds"`
}

// AddFiles catalogs newly discovered files of a location. Paths already
// cataloged are skipped.
func (h *Handlers) AddFiles(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decodeJSON(w, r, &req, maxScanBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.catalog.CreateFilesFromPath(r.Context(), mux.Vars(r)["id"], req.Files)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatusCode(w, map[string]int{"created": n}, http.StatusOK)
}

// CompareFiles diffs a scanner report against the catalog without
// changing anything.
func (h *Handlers) CompareFiles(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decodeJSON(w, r, &req, maxScanBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	diff, err := h.catalog.CompareFiles(r.Context(), mux.Vars(r)["id"], req.Files)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatusCode(w, diff, http.StatusOK)
}

// ApplyDiff applies a diff previously returned by CompareFiles.
func (h *Handlers) ApplyDiff(w http.ResponseWriter, r *http.Request) {
	var diff catalog.Diff
	if err := decodeJSON(w, r, &diff, maxScanBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.catalog.ApplyDiff(r.Context(), mux.Vars(r)["id"], &diff); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, "ok")
}

// RemoveFiles deletes files from the catalog.
func (h *Handlers) RemoveFiles(w http.ResponseWriter, r *http.Request) {
	var req RemoveFilesRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(req.FileIDs) == 0 {
		writeJSONError(w, "fileIds is required", http.StatusBadRequest)
		return
	}
	if err := h.catalog.RemoveFiles(r.Context(), req.FileIDs); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, "ok")
}
