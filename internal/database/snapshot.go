package database

import (
	"context"
	"fmt"
)

// Export reads every entity table into a Snapshot.
func (d *Database) Export(ctx context.Context) (*Snapshot, error) {
	done := observeQuery("export")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	snap := &Snapshot{Version: SchemaVersion}
	var err error
	defer func() { done(err) }()

	if snap.Locations, err = loadLocations(ctx, d.db); err != nil {
		return nil, fmt.Errorf("export locations: %w", err)
	}
	if snap.Tags, snap.Implications, err = loadTags(ctx, d.db); err != nil {
		return nil, fmt.Errorf("export tags: %w", err)
	}
	if snap.ExtraProperties, err = loadExtraProperties(ctx, d.db); err != nil {
		return nil, fmt.Errorf("export extra properties: %w", err)
	}
	if err = queryFiles(ctx, d.db, "1 ORDER BY f.id", nil, func(f File) {
		snap.Files = append(snap.Files, f)
	}); err != nil {
		return nil, fmt.Errorf("export files: %w", err)
	}
	if snap.SavedSearches, err = loadSavedSearches(ctx, d.db); err != nil {
		return nil, fmt.Errorf("export saved searches: %w", err)
	}
	return snap, nil
}

// Import replaces the contents of every entity table with snap, in one
// transaction.
func (d *Database) Import(ctx context.Context, snap *Snapshot) error {
	if snap.Version > SchemaVersion {
		return fmt.Errorf("snapshot version %d is newer than supported version %d", snap.Version, SchemaVersion)
	}
	done := observeQuery("import")
	err := d.WithTx(ctx, func(tx *Tx) error {
		q := tx.tx
		if _, err := q.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
			return err
		}
		for _, table := range []string{
			"file_extra_properties", "file_tags", "files", "tag_edges", "tag_aliases",
			"tags", "extra_properties", "saved_searches", "locations",
		} {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		for _, loc := range snap.Locations {
			if err := saveLocation(ctx, q, loc); err != nil {
				return fmt.Errorf("import location %s: %w", loc.ID, err)
			}
		}
		if err := replaceTagTree(ctx, q, snap.Tags, snap.Implications); err != nil {
			return err
		}
		for _, p := range snap.ExtraProperties {
			if err := saveExtraProperty(ctx, q, p); err != nil {
				return fmt.Errorf("import extra property %s: %w", p.ID, err)
			}
		}
		if _, err := tx.InsertFiles(ctx, snap.Files); err != nil {
			return err
		}
		for _, s := range snap.SavedSearches {
			if err := saveSearch(ctx, q, s); err != nil {
				return fmt.Errorf("import saved search %s: %w", s.ID, err)
			}
		}
		return nil
	})
	done(err)
	return err
}
