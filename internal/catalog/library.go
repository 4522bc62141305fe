package catalog

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/query"
)

// Locations returns every location.
func (s *Service) Locations(ctx context.Context) ([]database.Location, error) {
	return s.db.Locations(ctx)
}

// SaveLocation creates or updates a location. A location without an id
// is new and gets one.
func (s *Service) SaveLocation(ctx context.Context, loc database.Location) (database.Location, error) {
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	if loc.DateAdded.IsZero() {
		loc.DateAdded = time.Now().UTC()
	}
	if err := s.db.SaveLocation(ctx, loc); err != nil {
		return database.Location{}, err
	}
	s.notify(ChangeLocations, loc.ID)
	return loc, nil
}

// DeleteLocation removes a location and every file in it.
func (s *Service) DeleteLocation(ctx context.Context, id string) error {
	files, err := s.db.FilesByLocation(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteLocation(ctx, id); err != nil {
		return err
	}
	tags := make(map[string]struct{})
	for _, f := range files {
		for _, t := range f.Tags {
			tags[t] = struct{}{}
		}
	}
	s.counts.MarkDirty(slices.Collect(maps.Keys(tags))...)
	s.counts.MarkGlobalsDirty()
	s.log.Info("Deleted location %s with %d files", id, len(files))
	s.notify(ChangeLocations, id)
	s.notify(ChangeFiles)
	return nil
}

// SavedSearches returns every saved search.
func (s *Service) SavedSearches(ctx context.Context) ([]database.SavedSearch, error) {
	return s.db.SavedSearches(ctx)
}

// SaveSearch stores criteria under a name. An empty id creates a new
// saved search.
func (s *Service) SaveSearch(ctx context.Context, id, name string, index int, criteria *query.Group) (database.SavedSearch, error) {
	if criteria == nil {
		criteria = query.All()
	}
	root, err := query.Marshal(query.Prune(criteria))
	if err != nil {
		return database.SavedSearch{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	saved := database.SavedSearch{ID: id, Name: strings.TrimSpace(name), Index: index, RootGroup: root}
	if err := s.db.SaveSearch(ctx, saved); err != nil {
		return database.SavedSearch{}, err
	}
	s.notify(ChangeSearches, id)
	return saved, nil
}

// SearchCriteria decodes the query tree of a saved search.
func SearchCriteria(saved database.SavedSearch) (*query.Group, error) {
	return query.Unmarshal(saved.RootGroup)
}

// DeleteSearch removes a saved search.
func (s *Service) DeleteSearch(ctx context.Context, id string) error {
	if err := s.db.DeleteSearch(ctx, id); err != nil {
		return err
	}
	s.notify(ChangeSearches, id)
	return nil
}

// ExtraProperties returns every extra property definition.
func (s *Service) ExtraProperties(ctx context.Context) ([]database.ExtraProperty, error) {
	return s.db.ExtraProperties(ctx)
}

// CreateExtraProperty defines a new extra property.
func (s *Service) CreateExtraProperty(ctx context.Context, name string, typ database.PropertyType) (database.ExtraProperty, error) {
	if typ != database.PropertyNumber && typ != database.PropertyText {
		return database.ExtraProperty{}, fmt.Errorf("%w: unknown property type %q", ErrInvalidValue, typ)
	}
	p := database.ExtraProperty{ID: uuid.NewString(), Name: strings.TrimSpace(name), Type: typ, DateAdded: time.Now().UTC()}
	if err := s.db.SaveExtraProperty(ctx, p); err != nil {
		return database.ExtraProperty{}, err
	}
	if err := s.props.reload(ctx, s.db); err != nil {
		return database.ExtraProperty{}, err
	}
	s.notify(ChangeProperties, p.ID)
	return p, nil
}

// RenameExtraProperty changes the name of an extra property.
func (s *Service) RenameExtraProperty(ctx context.Context, id, name string) error {
	typ, ok := s.props.PropertyType(id)
	if !ok {
		return fmt.Errorf("extra property %s: %w", id, database.ErrNotFound)
	}
	if err := s.db.SaveExtraProperty(ctx, database.ExtraProperty{ID: id, Name: strings.TrimSpace(name), Type: typ}); err != nil {
		return err
	}
	s.notify(ChangeProperties, id)
	return nil
}

// DeleteExtraProperty removes a property definition and every value of it.
func (s *Service) DeleteExtraProperty(ctx context.Context, id string) error {
	if err := s.db.DeleteExtraProperty(ctx, id); err != nil {
		return err
	}
	if err := s.props.reload(ctx, s.db); err != nil {
		return err
	}
	s.notify(ChangeProperties, id)
	s.notify(ChangeFiles)
	return nil
}

// Export returns the full contents of the catalog.
func (s *Service) Export(ctx context.Context) (*database.Snapshot, error) {
	if err := s.FlushSaves(ctx); err != nil {
		return nil, err
	}
	return s.db.Export(ctx)
}

// Import replaces the catalog with a snapshot and recomputes every count.
func (s *Service) Import(ctx context.Context, snap *database.Snapshot) error {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	s.saveMu.Lock()
	clear(s.pending)
	s.saveMu.Unlock()

	if err := s.db.Import(ctx, snap); err != nil {
		return err
	}
	if _, err := s.loadGraph(ctx); err != nil {
		return err
	}
	if err := s.props.reload(ctx, s.db); err != nil {
		return err
	}
	if err := s.counts.RecountAll(ctx, nil); err != nil {
		return err
	}
	s.log.Info("Imported %d files, %d tags, %d locations", len(snap.Files), len(snap.Tags), len(snap.Locations))
	s.notify(ChangeImport)
	return nil
}
