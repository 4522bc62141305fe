package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/RafaUC/Allusion-sub000/internal/database"
)

// SavedSearchRequest creates or replaces a saved search.
type SavedSearchRequest struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Index    int             `json:"index"`
	Criteria json.RawMessage `json:"criteria"`
}

// PropertyRequest creates or renames an extra property.
type PropertyRequest struct {
	Name string                `json:"name"`
	Type database.PropertyType `json:"type"`
}

// ListSavedSearches returns every saved search.
func (h *Handlers) ListSavedSearches(w http.ResponseWriter, r *http.Request) {
	searches, err := h.catalog.SavedSearches(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if searches == nil {
		searches = []database.SavedSearch{}
	}
	writeJSONStatusCode(w, searches, http.StatusOK)
}

// SaveSearch stores a query tree under a name.
func (h *Handlers) SaveSearch(w http.ResponseWriter, r *http.Request) {
	var req SavedSearchRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSONError(w, "name is required", http.StatusBadRequest)
		return
	}
	criteria, err := decodeCriteria(req.Criteria)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	saved, err := h.catalog.SaveSearch(r.Context(), req.ID, req.Name, req.Index, criteria)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if req.ID == "" {
		status = http.StatusCreated
	}
	writeJSONStatusCode(w, saved, status)
}

// DeleteSearch removes a saved search.
func (h *Handlers) DeleteSearch(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteSearch(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, "ok")
}

// ListLocations returns every location.
func (h *Handlers) ListLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.catalog.Locations(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if locs == nil {
		locs = []database.Location{}
	}
	writeJSONStatusCode(w, locs, http.StatusOK)
}

// SaveLocation creates a location, or updates the one named by the id.
func (h *Handlers) SaveLocation(w http.ResponseWriter, r *http.Request) {
	var loc database.Location
	if err := decodeJSON(w, r, &loc, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if id, ok := mux.Vars(r)["id"]; ok {
		loc.ID = id
	}
	if strings.TrimSpace(loc.Path) == "" {
		writeJSONError(w, "path is required", http.StatusBadRequest)
		return
	}

	created := loc.ID == ""
	saved, err := h.catalog.SaveLocation(r.Context(), loc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSONStatusCode(w, saved, status)
}

// DeleteLocation removes a location and its files.
func (h *Handlers) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteLocation(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, "ok")
}

// ListProperties returns every extra property definition.
func (h *Handlers) ListProperties(w http.ResponseWriter, r *http.Request) {
	props, err := h.catalog.ExtraProperties(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if props == nil {
		props = []database.ExtraProperty{}
	}
	writeJSONStatusCode(w, props, http.StatusOK)
}

// CreateProperty defines an extra property.
func (h *Handlers) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var req PropertyRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSONError(w, "name is required", http.StatusBadRequest)
		return
	}
	p, err := h.catalog.CreateExtraProperty(r.Context(), req.Name, req.Type)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatusCode(w, p, http.StatusCreated)
}

// RenameProperty renames an extra property. Its type cannot change.
func (h *Handlers) RenameProperty(w http.ResponseWriter, r *http.Request) {
	var req PropertyRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSONError(w, "name is required", http.StatusBadRequest)
		return
	}
	if err := h.catalog.RenameExtraProperty(r.Context(), mux.Vars(r)["id"], req.Name); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, "ok")
}

// DeleteProperty removes an extra property and every value of it.
func (h *Handlers) DeleteProperty(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteExtraProperty(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, "ok")
}
