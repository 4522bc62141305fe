package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// FileTagsRequest adds and removes tags on a set of files.
type FileTagsRequest struct {
	FileIDs []string `json:"fileIds"`
	Add     []string `json:"add"`
	Remove  []string `json:"remove"`
}

// RetagRequest adds and removes tags on every file matching a query tree.
type RetagRequest struct {
	Criteria json.RawMessage `json:"criteria"`
	Add      []string        `json:"add"`
	Remove   []string        `json:"remove"`
}

// PropertyValueRequest sets one extra property value.
type PropertyValueRequest struct {
	Value any `json:"value"`
}

// GetFile returns one file.
func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.catalog.GetFile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatusCode(w, f, http.StatusOK)
}

// TagFiles adds then removes tags on the listed files.
func (h *Handlers) TagFiles(w http.ResponseWriter, r *http.Request) {
	var req FileTagsRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(req.FileIDs) == 0 {
		writeJSONError(w, "fileIds is required", http.StatusBadRequest)
		return
	}

	if len(req.Add) > 0 {
		if err := h.catalog.AddTags(r.Context(), req.FileIDs, req.Add); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if len(req.Remove) > 0 {
		if err := h.catalog.RemoveTags(r.Context(), req.FileIDs, req.Remove); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSONStatus(w, "ok")
}

// RetagFiles applies a tag change to every file matching a query. If the
// request is canceled part way, the files already changed stay changed and
// their number is logged.
func (h *Handlers) RetagFiles(w http.ResponseWriter, r *http.Request) {
	var req RetagRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	criteria, err := decodeCriteria(req.Criteria)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := h.catalog.BulkRetag(r.Context(), criteria, req.Add, req.Remove, func(done, total int) {
		h.log.Debug("retag progress: %d/%d", done, total)
	})
	if err != nil {
		h.log.Warn("retag stopped after %d files: %v", n, err)
		h.writeError(w, r, err)
		return
	}
	writeJSONStatusCode(w, map[string]int{"updated": n}, http.StatusOK)
}

// SetPropertyValue stores a file's value for an extra property.
func (h *Handlers) SetPropertyValue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req PropertyValueRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.catalog.SetPropertyValue(r.Context(), vars["id"], vars["property"], req.Value); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, "ok")
}

// RemovePropertyValue clears a file's value for an extra property.
func (h *Handlers) RemovePropertyValue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.catalog.RemovePropertyValue(r.Context(), vars["id"], vars["property"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, "ok")
}
