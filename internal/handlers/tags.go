package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/RafaUC/Allusion-sub000/internal/catalog"
	"github.com/RafaUC/Allusion-sub000/internal/taggraph"
)

// TagResponse is a tag with its place in the tree and its implications.
type TagResponse struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Color              string    `json:"color"`
	ResolvedColor      string    `json:"resolvedColor"`
	Description        string    `json:"description"`
	IsHidden           bool      `json:"isHidden"`
	IsVisibleInherited bool      `json:"isVisibleInherited"`
	IsHeader           bool      `json:"isHeader"`
	DateAdded          time.Time `json:"dateAdded"`
	FileCount          int       `json:"fileCount"`
	IsFileCountDirty   bool      `json:"isFileCountDirty"`
	ParentID           string    `json:"parentId"`
	Position           int       `json:"position"`
	Aliases            []string  `json:"aliases"`
	Implies            []string  `json:"implies"`
}

// TagRequest is the body for creating or updating a tag.
type TagRequest struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
	IsHidden    bool   `json:"isHidden"`
	IsHeader    bool   `json:"isHeader"`
	ParentID    string `json:"parentId"`
	// Index is the position among siblings; omitted appends.
	Index *int `json:"index"`
}

// MergeRequest names the tag that survives a merge.
type MergeRequest struct {
	Into string `json:"into"`
}

// MoveRequest places a tag under a parent at an index.
type MoveRequest struct {
	ParentID string `json:"parentId"`
	Index    int    `json:"index"`
}

// ImplicationRequest names the implied tag.
type ImplicationRequest struct {
	Implied string `json:"implied"`
}

// AliasesRequest replaces a tag's aliases.
type AliasesRequest struct {
	Aliases []string `json:"aliases"`
}

func (h *Handlers) tagResponse(rec taggraph.Record) TagResponse {
	graph := h.catalog.Graph()
	aliases := rec.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	implies := graph.Implies(rec.ID)
	if implies == nil {
		implies = []string{}
	}
	return TagResponse{
		ID:                 rec.ID,
		Name:               rec.Name,
		Color:              rec.Color,
		ResolvedColor:      graph.ResolvedColor(rec.ID),
		Description:        rec.Description,
		IsHidden:           rec.IsHidden,
		IsVisibleInherited: rec.IsVisibleInherited,
		IsHeader:           rec.IsHeader,
		DateAdded:          rec.DateAdded,
		FileCount:          rec.FileCount,
		IsFileCountDirty:   rec.IsFileCountDirty,
		ParentID:           rec.ParentID,
		Position:           rec.Position,
		Aliases:            aliases,
		Implies:            implies,
	}
}

// ListTags returns every tag in tree order.
func (h *Handlers) ListTags(w http.ResponseWriter, _ *http.Request) {
	records := h.catalog.Tags()
	out := make([]TagResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, h.tagResponse(rec))
	}
	writeJSONStatusCode(w, out, http.StatusOK)
}

// GetTag returns one tag.
func (h *Handlers) GetTag(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, rec := range h.catalog.Tags() {
		if rec.ID == id {
			writeJSONStatusCode(w, h.tagResponse(rec), http.StatusOK)
			return
		}
	}
	writeJSONError(w, "tag not found", http.StatusNotFound)
}

// CreateTag adds a tag.
func (h *Handlers) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	index := -1
	if req.Index != nil {
		index = *req.Index
	}

	tag, err := h.catalog.CreateTag(r.Context(), catalog.NewTag{
		Name:        req.Name,
		Color:       req.Color,
		Description: req.Description,
		IsHidden:    req.IsHidden,
		IsHeader:    req.IsHeader,
		ParentID:    req.ParentID,
		Index:       index,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeTag(w, r, tag.ID, http.StatusCreated)
}

// UpdateTag changes a tag's attributes. Its place in the tree is changed
// with MoveTag.
func (h *Handlers) UpdateTag(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req TagRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}

	tag, ok := h.catalog.Graph().Get(id)
	if !ok {
		writeJSONError(w, "tag not found", http.StatusNotFound)
		return
	}
	tag.Name = req.Name
	tag.Color = req.Color
	tag.Description = req.Description
	tag.IsHidden = req.IsHidden
	tag.IsHeader = req.IsHeader

	if err := h.catalog.UpdateTag(r.Context(), tag); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeTag(w, r, id, http.StatusOK)
}

// DeleteTag removes a tag and its subtree.
func (h *Handlers) DeleteTag(w http.ResponseWriter, r *http.Request) {
	removed, err := h.catalog.DeleteTag(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatusCode(w, map[string][]string{"removed": removed}, http.StatusOK)
}

// MergeTag folds the tag into another one.
func (h *Handlers) MergeTag(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.catalog.MergeTags(r.Context(), mux.Vars(r)["id"], req.Into); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeTag(w, r, req.Into, http.StatusOK)
}

// MoveTag reparents or reorders a tag.
func (h *Handlers) MoveTag(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req MoveRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	parent := req.ParentID
	if parent == "" {
		parent = taggraph.RootID
	}
	if err := h.catalog.MoveTag(r.Context(), id, parent, req.Index); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeTag(w, r, id, http.StatusOK)
}

// AddImplication makes the tag imply another.
func (h *Handlers) AddImplication(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req ImplicationRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.catalog.AddImplication(r.Context(), id, req.Implied); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeTag(w, r, id, http.StatusOK)
}

// RemoveImplication drops an implication edge.
func (h *Handlers) RemoveImplication(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.catalog.RemoveImplication(r.Context(), vars["id"], vars["implied"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeTag(w, r, vars["id"], http.StatusOK)
}

// SetAliases replaces a tag's aliases.
func (h *Handlers) SetAliases(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req AliasesRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.catalog.SetAliases(r.Context(), id, req.Aliases); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeTag(w, r, id, http.StatusOK)
}

func (h *Handlers) writeTag(w http.ResponseWriter, r *http.Request, id string, status int) {
	for _, rec := range h.catalog.Tags() {
		if rec.ID == id {
			writeJSONStatusCode(w, h.tagResponse(rec), status)
			return
		}
	}
	h.writeError(w, r, taggraph.ErrNotFound)
}
