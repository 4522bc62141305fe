package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RafaUC/Allusion-sub000/internal/aggregate"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/metrics"
	"github.com/RafaUC/Allusion-sub000/internal/taggraph"
)

// NewTag holds the attributes of a tag to create.
type NewTag struct {
	Name        string
	Color       string
	Description string
	IsHidden    bool
	IsHeader    bool
	ParentID    string
	// Index is the position among the parent's children; -1 appends.
	Index int
}

// CreateTag adds a tag and returns it.
func (s *Service) CreateTag(ctx context.Context, in NewTag) (taggraph.Tag, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return taggraph.Tag{}, fmt.Errorf("%w: tag name is empty", taggraph.ErrUnsupported)
	}
	parent := in.ParentID
	if parent == "" {
		parent = taggraph.RootID
	}
	color := in.Color
	if color == "" {
		color = taggraph.InheritColor
	}
	tag := taggraph.Tag{
		ID:          uuid.NewString(),
		Name:        name,
		Color:       color,
		Description: in.Description,
		IsHidden:    in.IsHidden,
		IsHeader:    in.IsHeader,
		DateAdded:   time.Now().UTC(),
	}

	err := s.editTree(ctx, func() error { return s.graph.Insert(tag, parent, in.Index) })
	if err != nil {
		return taggraph.Tag{}, err
	}
	s.log.Debug("Created tag %s (%s) under %s", tag.ID, tag.Name, parent)
	s.notify(ChangeTags, tag.ID)
	return tag, nil
}

// UpdateTag replaces the attributes of a tag. Counts are kept.
func (s *Service) UpdateTag(ctx context.Context, tag taggraph.Tag) error {
	err := s.editTree(ctx, func() error {
		current, ok := s.graph.Get(tag.ID)
		if !ok || tag.ID == taggraph.RootID {
			return fmt.Errorf("%w: %s", taggraph.ErrNotFound, tag.ID)
		}
		tag.FileCount = current.FileCount
		tag.IsFileCountDirty = current.IsFileCountDirty
		if tag.DateAdded.IsZero() {
			tag.DateAdded = current.DateAdded
		}
		return s.graph.Update(tag)
	})
	if err != nil {
		return err
	}
	s.notify(ChangeTags, tag.ID)
	return nil
}

// DeleteTag removes a tag and its subtree. Files lose the removed tags.
func (s *Service) DeleteTag(ctx context.Context, id string) ([]string, error) {
	var removed, affected []string
	err := s.editTree(ctx, func() error {
		visited := make(map[string]struct{})
		for tag := range s.graph.Subtree(id) {
			affected = append(affected, s.graph.ImpliedAncestors(tag.ID, visited)...)
		}
		var err error
		removed, err = s.graph.Remove(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.counts.MarkDirty(affected...)
	s.counts.MarkGlobalsDirty(aggregate.Untagged)
	s.log.Info("Deleted tag %s and %d descendants", id, len(removed)-1)
	s.notify(ChangeTags, removed...)
	s.notify(ChangeFiles)
	return removed, nil
}

// MergeTags folds removeID into keepID: every file tagged with removeID
// is tagged with keepID instead, and removeID is deleted.
func (s *Service) MergeTags(ctx context.Context, removeID, keepID string) error {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	visited := make(map[string]struct{})
	affected := s.graph.ImpliedAncestors(removeID, visited)
	affected = append(affected, s.graph.ImpliedAncestors(keepID, visited)...)

	if err := s.graph.Merge(removeID, keepID); err != nil {
		return err
	}
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.ReassignTag(ctx, removeID, keepID); err != nil {
			return err
		}
		rows, edges := treeRows(s.graph)
		return tx.ReplaceTagTree(ctx, rows, edges)
	})
	if err != nil {
		s.restoreGraph(ctx, err)
		return fmt.Errorf("failed to merge %s into %s: %w", removeID, keepID, err)
	}

	metrics.CatalogTagsTotal.Set(float64(s.graph.Len()))
	s.counts.MarkDirty(affected...)
	s.log.Info("Merged tag %s into %s", removeID, keepID)
	s.notify(ChangeTags, removeID, keepID)
	s.notify(ChangeFiles)
	return nil
}

// MoveTag reparents a tag at index among its new siblings.
func (s *Service) MoveTag(ctx context.Context, id, parentID string, index int) error {
	var affected []string
	err := s.editTree(ctx, func() error {
		visited := make(map[string]struct{})
		affected = s.graph.ImpliedAncestors(id, visited)
		if err := s.graph.Move(id, parentID, index); err != nil {
			return err
		}
		affected = append(affected, s.graph.ImpliedAncestors(id, visited)...)
		return nil
	})
	if err != nil {
		return err
	}
	s.counts.MarkDirty(affected...)
	s.notify(ChangeTags, id)
	return nil
}

// AddImplication records that tag a implies tag b: a search for b also
// finds files tagged a.
func (s *Service) AddImplication(ctx context.Context, a, b string) error {
	if err := s.editTree(ctx, func() error { return s.graph.AddImplication(a, b) }); err != nil {
		return err
	}
	s.counts.MarkDirty(a)
	s.notify(ChangeTags, a, b)
	return nil
}

// RemoveImplication drops the edge a -> b.
func (s *Service) RemoveImplication(ctx context.Context, a, b string) error {
	var affected []string
	err := s.editTree(ctx, func() error {
		affected = s.graph.ImpliedAncestors(a, nil)
		return s.graph.RemoveImplication(a, b)
	})
	if err != nil {
		return err
	}
	s.counts.MarkDirty(affected...)
	s.notify(ChangeTags, a, b)
	return nil
}

// SetAliases replaces the aliases of a tag.
func (s *Service) SetAliases(ctx context.Context, id string, aliases []string) error {
	if err := s.editTree(ctx, func() error { return s.graph.SetAliases(id, aliases) }); err != nil {
		return err
	}
	s.notify(ChangeTags, id)
	return nil
}

// Tags returns every tag with its place in the tree, in display order.
func (s *Service) Tags() []taggraph.Record {
	return s.graph.Records()
}

// editTree applies fn to the graph and persists the result. If fn fails
// the graph is untouched; if persisting fails the graph is reloaded from
// the store.
func (s *Service) editTree(ctx context.Context, fn func() error) error {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	if err := fn(); err != nil {
		return err
	}
	if err := s.persistTree(ctx); err != nil {
		s.restoreGraph(ctx, err)
		return fmt.Errorf("failed to save tag tree: %w", err)
	}
	metrics.CatalogTagsTotal.Set(float64(s.graph.Len()))
	return nil
}

func (s *Service) persistTree(ctx context.Context) error {
	rows, edges := treeRows(s.graph)
	return s.db.ReplaceTagTree(ctx, rows, edges)
}

func (s *Service) restoreGraph(ctx context.Context, cause error) {
	s.log.Error("Tag tree write failed, reloading from store: %v", cause)
	if _, err := s.loadGraph(ctx); err != nil {
		s.log.Error("Failed to reload tag tree: %v", err)
	}
}

func treeRows(g *taggraph.Graph) ([]database.TagRow, []database.ImplicationRow) {
	records := g.Records()
	rows := make([]database.TagRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, rowFromRecord(r))
	}
	implications := g.Implications()
	edges := make([]database.ImplicationRow, 0, len(implications))
	for _, e := range implications {
		edges = append(edges, database.ImplicationRow{TagID: e.Tag, ImpliedID: e.Implied})
	}
	return rows, edges
}

func rowFromRecord(r taggraph.Record) database.TagRow {
	return database.TagRow{
		ID:                 r.ID,
		Name:               r.Name,
		Color:              r.Color,
		Description:        r.Description,
		IsHidden:           r.IsHidden,
		IsVisibleInherited: r.IsVisibleInherited,
		IsHeader:           r.IsHeader,
		DateAdded:          r.DateAdded,
		FileCount:          r.FileCount,
		IsFileCountDirty:   r.IsFileCountDirty,
		ParentID:           r.ParentID,
		Position:           r.Position,
		Aliases:            r.Aliases,
	}
}

func recordFromRow(r database.TagRow) taggraph.Record {
	return taggraph.Record{
		Tag: taggraph.Tag{
			ID:                 r.ID,
			Name:               r.Name,
			Color:              r.Color,
			Description:        r.Description,
			IsHidden:           r.IsHidden,
			IsVisibleInherited: r.IsVisibleInherited,
			IsHeader:           r.IsHeader,
			DateAdded:          r.DateAdded,
			FileCount:          r.FileCount,
			IsFileCountDirty:   r.IsFileCountDirty,
		},
		ParentID: r.ParentID,
		Position: r.Position,
		Aliases:  r.Aliases,
	}
}
