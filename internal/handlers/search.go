package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/RafaUC/Allusion-sub000/internal/catalog"
	"github.com/RafaUC/Allusion-sub000/internal/database"
)

// SearchRequest is the body of POST /api/search. Criteria is an encoded
// query tree; omitted, every file matches.
type SearchRequest struct {
	catalog.SearchRequest
	Criteria json.RawMessage `json:"criteria"`
}

// SearchResponse is one page of results.
type SearchResponse struct {
	Files       []database.File  `json:"files"`
	First       *database.Cursor `json:"first,omitempty"`
	Last        *database.Cursor `json:"last,omitempty"`
	AnchorIndex int              `json:"anchorIndex"`
	// Seed is set for random order; send it back with the next page.
	Seed int64 `json:"seed,omitempty"`
}

// CountRequest is the body of POST /api/search/count.
type CountRequest struct {
	Criteria json.RawMessage `json:"criteria"`
}

// Search runs one page of a search.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	criteria, err := decodeCriteria(req.Criteria)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req.SearchRequest.Criteria = criteria

	page, err := h.catalog.SearchFiles(r.Context(), req.SearchRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	files := page.Files
	if files == nil {
		files = []database.File{}
	}
	writeJSONStatusCode(w, SearchResponse{
		Files:       files,
		First:       page.First,
		Last:        page.Last,
		AnchorIndex: page.AnchorIndex,
		Seed:        page.Seed,
	}, http.StatusOK)
}

// Count returns how many files match a query tree.
func (h *Handlers) Count(w http.ResponseWriter, r *http.Request) {
	var req CountRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	criteria, err := decodeCriteria(req.Criteria)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := h.catalog.CountFiles(r.Context(), criteria)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatusCode(w, map[string]int{"count": n}, http.StatusOK)
}
