package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Locations returns every location ordered by index.
func (d *Database) Locations(ctx context.Context) ([]Location, error) {
	done := observeQuery("locations")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	out, err := loadLocations(ctx, d.db)
	done(err)
	return out, err
}

func loadLocations(ctx context.Context, q querier) ([]Location, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, path, date_added, idx, is_watching_files, sub_locations
		FROM locations ORDER BY idx, path
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Location
	for rows.Next() {
		var loc Location
		var added int64
		var watching int
		var subs string
		if err := rows.Scan(&loc.ID, &loc.Path, &added, &loc.Index, &watching, &subs); err != nil {
			return nil, err
		}
		loc.DateAdded = fromMillis(added)
		loc.IsWatchingFiles = watching != 0
		if err := json.Unmarshal([]byte(subs), &loc.SubLocations); err != nil {
			return nil, fmt.Errorf("decode sub-locations of %s: %w", loc.ID, err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// GetLocation retrieves a location by id.
func (d *Database) GetLocation(ctx context.Context, id string) (*Location, error) {
	locs, err := d.Locations(ctx)
	if err != nil {
		return nil, err
	}
	for i := range locs {
		if locs[i].ID == id {
			return &locs[i], nil
		}
	}
	return nil, fmt.Errorf("location %s: %w", id, ErrNotFound)
}

// SaveLocation inserts or updates a location.
func (d *Database) SaveLocation(ctx context.Context, loc Location) error {
	done := observeQuery("save_location")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := saveLocation(ctx, d.db, loc)
	done(err)
	return err
}

func saveLocation(ctx context.Context, q querier, loc Location) error {
	if loc.SubLocations == nil {
		loc.SubLocations = []SubLocation{}
	}
	subs, err := json.Marshal(loc.SubLocations)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO locations (id, path, date_added, idx, is_watching_files, sub_locations)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			idx = excluded.idx,
			is_watching_files = excluded.is_watching_files,
			sub_locations = excluded.sub_locations
	`, loc.ID, loc.Path, toMillis(loc.DateAdded), loc.Index, boolToInt(loc.IsWatchingFiles), string(subs))
	return err
}

// DeleteLocation removes a location and, by cascade, its files.
func (d *Database) DeleteLocation(ctx context.Context, id string) error {
	return d.deleteByID(ctx, "delete_location", "locations", id)
}

// SavedSearches returns every saved search ordered by index.
func (d *Database) SavedSearches(ctx context.Context) ([]SavedSearch, error) {
	done := observeQuery("saved_searches")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	out, err := loadSavedSearches(ctx, d.db)
	done(err)
	return out, err
}

func loadSavedSearches(ctx context.Context, q querier) ([]SavedSearch, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, name, idx, root_group FROM saved_searches ORDER BY idx, name")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SavedSearch
	for rows.Next() {
		var s SavedSearch
		var root string
		if err := rows.Scan(&s.ID, &s.Name, &s.Index, &root); err != nil {
			return nil, err
		}
		s.RootGroup = json.RawMessage(root)
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveSearch inserts or updates a saved search.
func (d *Database) SaveSearch(ctx context.Context, s SavedSearch) error {
	done := observeQuery("save_search")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := saveSearch(ctx, d.db, s)
	done(err)
	return err
}

func saveSearch(ctx context.Context, q querier, s SavedSearch) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO saved_searches (id, name, idx, root_group) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			idx = excluded.idx,
			root_group = excluded.root_group
	`, s.ID, s.Name, s.Index, string(s.RootGroup))
	return err
}

// DeleteSearch removes a saved search.
func (d *Database) DeleteSearch(ctx context.Context, id string) error {
	return d.deleteByID(ctx, "delete_search", "saved_searches", id)
}

// ExtraProperties returns every extra property definition.
func (d *Database) ExtraProperties(ctx context.Context) ([]ExtraProperty, error) {
	done := observeQuery("extra_properties")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	out, err := loadExtraProperties(ctx, d.db)
	done(err)
	return out, err
}

func loadExtraProperties(ctx context.Context, q querier) ([]ExtraProperty, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, name, type, date_added FROM extra_properties ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ExtraProperty
	for rows.Next() {
		var p ExtraProperty
		var added int64
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &added); err != nil {
			return nil, err
		}
		p.DateAdded = fromMillis(added)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveExtraProperty inserts or renames an extra property. The type of an
// existing property cannot change.
func (d *Database) SaveExtraProperty(ctx context.Context, p ExtraProperty) error {
	done := observeQuery("save_extra_property")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := saveExtraProperty(ctx, d.db, p)
	done(err)
	return err
}

func saveExtraProperty(ctx context.Context, q querier, p ExtraProperty) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO extra_properties (id, name, type, date_added) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, p.ID, p.Name, string(p.Type), toMillis(p.DateAdded))
	return err
}

// DeleteExtraProperty removes a property definition and all its values.
func (d *Database) DeleteExtraProperty(ctx context.Context, id string) error {
	return d.deleteByID(ctx, "delete_extra_property", "extra_properties", id)
}

// SetPropertyValue stores value (a number or a string) for a file.
func (d *Database) SetPropertyValue(ctx context.Context, fileID, propertyID string, value any) error {
	return d.WithTx(ctx, func(tx *Tx) error { return tx.SetPropertyValue(ctx, fileID, propertyID, value) })
}

// SetPropertyValue stores value (a number or a string) for a file.
func (t *Tx) SetPropertyValue(ctx context.Context, fileID, propertyID string, value any) error {
	done := observeQuery("set_property_value")
	err := setPropertyValue(ctx, t.tx, fileID, propertyID, value)
	done(err)
	return err
}

func setPropertyValue(ctx context.Context, q querier, fileID, propertyID string, value any) error {
	var num, text any
	switch v := value.(type) {
	case float64:
		num = v
	case float32:
		num = float64(v)
	case int:
		num = float64(v)
	case int64:
		num = float64(v)
	case string:
		text = v
	default:
		return fmt.Errorf("unsupported value %T for property %s", value, propertyID)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO file_extra_properties (file_id, property_id, value_num, value_text) VALUES (?, ?, ?, ?)
		ON CONFLICT(file_id, property_id) DO UPDATE SET
			value_num = excluded.value_num,
			value_text = excluded.value_text
	`, fileID, propertyID, num, text)
	if err != nil {
		return fmt.Errorf("set property %s of %s: %w", propertyID, fileID, err)
	}
	return nil
}

// RemovePropertyValue removes a file's value for a property.
func (d *Database) RemovePropertyValue(ctx context.Context, fileID, propertyID string) error {
	done := observeQuery("remove_property_value")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx,
		"DELETE FROM file_extra_properties WHERE file_id = ? AND property_id = ?", fileID, propertyID)
	done(err)
	return err
}

func (d *Database) deleteByID(ctx context.Context, operation, table, id string) error {
	done := observeQuery(operation)

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err == nil {
		if n, _ := res.RowsAffected(); n == 0 {
			err = fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
		}
	}
	done(err)
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
