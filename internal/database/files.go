package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrStopScan may be returned by a ScanFiles callback to end the scan
// early without error.
var ErrStopScan = errors.New("stop scan")

// ScanRequest describes an ordered, filtered walk over the files table.
type ScanRequest struct {
	Index IndexExpr
	Order Order
	// Cursor, when set, excludes every row up to and including it.
	Cursor *Cursor
	// Backward walks toward the start of the order. Rows are produced
	// nearest-first, so callers reverse them for display.
	Backward bool
	// Limit caps the rows read from the store; zero means no limit.
	Limit int
}

// tagSeparator joins tag ids in aggregated columns.
const tagSeparator = "\x1f"

const fileColumns = `f.id, f.location_id, f.absolute_path, f.relative_path, f.name, f.extension,
	f.size, f.width, f.height, f.date_created, f.date_modified, f.date_added, f.date_last_indexed, f.broken,
	(SELECT group_concat(ft.tag_id, char(31)) FROM file_tags ft WHERE ft.file_id = f.id),
	(SELECT json_group_object(fp.property_id, COALESCE(fp.value_num, fp.value_text)) FROM file_extra_properties fp WHERE fp.file_id = f.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(s rowScanner, extra ...any) (File, error) {
	var f File
	var created, modified, added, indexed int64
	var broken int
	var tags, props sql.NullString

	dest := []any{
		&f.ID, &f.LocationID, &f.AbsolutePath, &f.RelativePath, &f.Name, &f.Extension,
		&f.Size, &f.Width, &f.Height, &created, &modified, &added, &indexed, &broken,
		&tags, &props,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return File{}, err
	}

	f.DateCreated = fromMillis(created)
	f.DateModified = fromMillis(modified)
	f.DateAdded = fromMillis(added)
	f.DateLastIndexed = fromMillis(indexed)
	f.Broken = broken != 0
	f.Tags = []string{}
	if tags.Valid && tags.String != "" {
		f.Tags = strings.Split(tags.String, tagSeparator)
		slices.Sort(f.Tags)
	}
	f.ExtraProperties = map[string]any{}
	if props.Valid && props.String != "" {
		if err := json.Unmarshal([]byte(props.String), &f.ExtraProperties); err != nil {
			return File{}, fmt.Errorf("decode extra properties of %s: %w", f.ID, err)
		}
	}
	return f, nil
}

// ScanFiles streams files matching req.Index in the requested order to fn.
// fn must not call write methods of the same Database.
func (d *Database) ScanFiles(ctx context.Context, req ScanRequest, fn func(Row) error) error {
	done := observeQuery("scan_files")

	ordExpr, ordArgs, err := orderExpr(req.Order)
	if err != nil {
		done(err)
		return err
	}

	var args []any
	args = append(args, ordArgs...)

	where, err := renderIndex(req.Index, &args)
	if err != nil {
		done(err)
		return err
	}

	desc := req.Order.Desc != req.Backward
	cmp, dir := ">", "ASC"
	if desc {
		cmp, dir = "<", "DESC"
	}

	if req.Cursor != nil {
		where += fmt.Sprintf(" AND (%s %s ? OR (%s = ? AND f.id %s ?))", ordExpr, cmp, ordExpr, cmp)
		args = append(args, ordArgs...)
		args = append(args, req.Cursor.Value)
		args = append(args, ordArgs...)
		args = append(args, req.Cursor.Value, req.Cursor.ID)
	}

	query := fmt.Sprintf("SELECT %s, %s AS ord FROM files f WHERE %s ORDER BY %s %s, f.id %s",
		fileColumns, ordExpr, where, ordExpr, dir, dir)
	args = append(args, ordArgs...)
	if req.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, req.Limit)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		done(err)
		return fmt.Errorf("scan files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ord any
		f, err := scanFile(rows, &ord)
		if err != nil {
			done(err)
			return err
		}
		if b, ok := ord.([]byte); ok {
			ord = string(b)
		}
		if err := fn(Row{File: f, OrderValue: ord}); err != nil {
			if errors.Is(err, ErrStopScan) {
				done(nil)
				return nil
			}
			done(err)
			return err
		}
	}
	err = rows.Err()
	done(err)
	return err
}

// CountFiles counts files matching expr.
func (d *Database) CountFiles(ctx context.Context, expr IndexExpr) (int, error) {
	done := observeQuery("count_files")

	var args []any
	where, err := renderIndex(expr, &args)
	if err != nil {
		done(err)
		return 0, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	var n int
	err = d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files f WHERE "+where, args...).Scan(&n)
	done(err)
	return n, err
}

// OrderValue returns the value file id sorts by under order, which
// together with id forms a Cursor.
func (d *Database) OrderValue(ctx context.Context, id string, order Order) (any, error) {
	ordExpr, args, err := orderExpr(order)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var v any
	err = d.db.QueryRowContext(ctx, "SELECT "+ordExpr+" FROM files f WHERE f.id = ?", append(args, id)...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	return v, err
}

// GetFile retrieves a single file by id.
func (d *Database) GetFile(ctx context.Context, id string) (*File, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	f, err := scanFile(d.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files f WHERE f.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFileByPath retrieves a single file by absolute path.
func (d *Database) GetFileByPath(ctx context.Context, path string) (*File, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	f, err := scanFile(d.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files f WHERE f.absolute_path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFiles retrieves files by id, in the order given. Unknown ids are
// skipped.
func (d *Database) GetFiles(ctx context.Context, ids []string) ([]File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	done := observeQuery("get_files")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	byID := make(map[string]File, len(ids))
	for chunk := range slices.Chunk(ids, maxBatchParams) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		err := queryFiles(ctx, d.db, "f.id IN ("+placeholders(len(chunk))+")", args, func(f File) {
			byID[f.ID] = f
		})
		if err != nil {
			done(err)
			return nil, err
		}
	}
	done(nil)

	out := make([]File, 0, len(byID))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// FilesByLocation returns every file of a location.
func (d *Database) FilesByLocation(ctx context.Context, locationID string) ([]File, error) {
	done := observeQuery("files_by_location")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	var out []File
	err := queryFiles(ctx, d.db, "f.location_id = ? ORDER BY f.absolute_path", []any{locationID}, func(f File) {
		out = append(out, f)
	})
	done(err)
	return out, err
}

// FileIDsByTags returns the ids of files carrying each tag, in one pass.
func (d *Database) FileIDsByTags(ctx context.Context, tagIDs []string) (map[string][]string, error) {
	done := observeQuery("file_ids_by_tags")
	out := make(map[string][]string, len(tagIDs))
	if len(tagIDs) == 0 {
		done(nil)
		return out, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	for chunk := range slices.Chunk(tagIDs, maxBatchParams) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := d.db.QueryContext(ctx,
			"SELECT tag_id, file_id FROM file_tags WHERE tag_id IN ("+placeholders(len(chunk))+")", args...)
		if err != nil {
			done(err)
			return nil, err
		}
		for rows.Next() {
			var tagID, fileID string
			if err := rows.Scan(&tagID, &fileID); err != nil {
				_ = rows.Close()
				done(err)
				return nil, err
			}
			out[tagID] = append(out[tagID], fileID)
		}
		if err := rows.Close(); err != nil {
			done(err)
			return nil, err
		}
	}
	done(nil)
	return out, nil
}

// Counts returns the global file counters.
func (d *Database) Counts(ctx context.Context) (Counts, error) {
	stats, err := d.GetStats(ctx)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Total: stats.TotalFiles, Untagged: stats.UntaggedFiles, Missing: stats.MissingFiles}, nil
}

// maxBatchParams keeps IN lists well under SQLite's variable limit.
const maxBatchParams = 500

func queryFiles(ctx context.Context, q querier, where string, args []any, fn func(File)) error {
	rows, err := q.QueryContext(ctx, "SELECT "+fileColumns+" FROM files f WHERE "+where, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return err
		}
		fn(f)
	}
	return rows.Err()
}

// InsertFiles adds files whose absolute path is not cataloged yet and
// returns how many were inserted.
func (d *Database) InsertFiles(ctx context.Context, files []File) (int, error) {
	var n int
	err := d.WithTx(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.InsertFiles(ctx, files)
		return err
	})
	return n, err
}

// UpdateFiles overwrites files, including their tags and property values.
func (d *Database) UpdateFiles(ctx context.Context, files []File) error {
	return d.WithTx(ctx, func(tx *Tx) error { return tx.UpdateFiles(ctx, files) })
}

// DeleteFiles removes files and their join rows.
func (d *Database) DeleteFiles(ctx context.Context, ids []string) error {
	return d.WithTx(ctx, func(tx *Tx) error { return tx.DeleteFiles(ctx, ids) })
}

// SetBroken flags files as missing on disk, or clears the flag.
func (d *Database) SetBroken(ctx context.Context, ids []string, broken bool) error {
	return d.WithTx(ctx, func(tx *Tx) error { return tx.SetBroken(ctx, ids, broken) })
}

// AddFileTags tags every file with every tag.
func (d *Database) AddFileTags(ctx context.Context, fileIDs, tagIDs []string) error {
	return d.WithTx(ctx, func(tx *Tx) error { return tx.AddFileTags(ctx, fileIDs, tagIDs) })
}

// RemoveFileTags removes every tag from every file.
func (d *Database) RemoveFileTags(ctx context.Context, fileIDs, tagIDs []string) error {
	return d.WithTx(ctx, func(tx *Tx) error { return tx.RemoveFileTags(ctx, fileIDs, tagIDs) })
}

// InsertFiles adds files whose absolute path is not cataloged yet.
func (t *Tx) InsertFiles(ctx context.Context, files []File) (int, error) {
	done := observeQuery("insert_files")
	inserted := 0
	for i := range files {
		f := &files[i]
		res, err := t.tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO files (id, location_id, absolute_path, relative_path, name, extension,
				size, width, height, date_created, date_modified, date_added, date_last_indexed, broken)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, f.ID, f.LocationID, f.AbsolutePath, f.RelativePath, f.Name, f.Extension,
			f.Size, f.Width, f.Height, toMillis(f.DateCreated), toMillis(f.DateModified),
			toMillis(f.DateAdded), toMillis(f.DateLastIndexed), boolToInt(f.Broken))
		if err != nil {
			done(err)
			return inserted, fmt.Errorf("insert file %s: %w", f.AbsolutePath, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		inserted++
		if err := writeFileRelations(ctx, t.tx, f); err != nil {
			done(err)
			return inserted, err
		}
	}
	done(nil)
	if inserted > 0 {
		recordRowCount("insert_files", inserted)
	}
	return inserted, nil
}

// UpdateFiles overwrites files, including their tags and property values.
func (t *Tx) UpdateFiles(ctx context.Context, files []File) error {
	done := observeQuery("update_files")
	for i := range files {
		f := &files[i]
		res, err := t.tx.ExecContext(ctx, `
			UPDATE files SET location_id = ?, absolute_path = ?, relative_path = ?, name = ?, extension = ?,
				size = ?, width = ?, height = ?, date_created = ?, date_modified = ?, date_added = ?,
				date_last_indexed = ?, broken = ?
			WHERE id = ?
		`, f.LocationID, f.AbsolutePath, f.RelativePath, f.Name, f.Extension,
			f.Size, f.Width, f.Height, toMillis(f.DateCreated), toMillis(f.DateModified),
			toMillis(f.DateAdded), toMillis(f.DateLastIndexed), boolToInt(f.Broken), f.ID)
		if err != nil {
			done(err)
			return fmt.Errorf("update file %s: %w", f.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			done(ErrNotFound)
			return fmt.Errorf("file %s: %w", f.ID, ErrNotFound)
		}
		for _, stmt := range []string{
			"DELETE FROM file_tags WHERE file_id = ?",
			"DELETE FROM file_extra_properties WHERE file_id = ?",
		} {
			if _, err := t.tx.ExecContext(ctx, stmt, f.ID); err != nil {
				done(err)
				return err
			}
		}
		if err := writeFileRelations(ctx, t.tx, f); err != nil {
			done(err)
			return err
		}
	}
	done(nil)
	recordRowCount("update_files", len(files))
	return nil
}

func writeFileRelations(ctx context.Context, q querier, f *File) error {
	for _, tagID := range f.Tags {
		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO file_tags (file_id, tag_id) VALUES (?, ?)", f.ID, tagID); err != nil {
			return fmt.Errorf("tag file %s with %s: %w", f.ID, tagID, err)
		}
	}
	for propID, value := range f.ExtraProperties {
		if err := setPropertyValue(ctx, q, f.ID, propID, value); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFiles removes files and their join rows.
func (t *Tx) DeleteFiles(ctx context.Context, ids []string) error {
	done := observeQuery("delete_files")
	for chunk := range slices.Chunk(ids, maxBatchParams) {
		res, err := t.tx.ExecContext(ctx, "DELETE FROM files WHERE id IN ("+placeholders(len(chunk))+")", anySlice(chunk)...)
		if err != nil {
			done(err)
			return err
		}
		recordRows("delete_files", res)
	}
	done(nil)
	return nil
}

// SetBroken flags files as missing on disk, or clears the flag.
func (t *Tx) SetBroken(ctx context.Context, ids []string, broken bool) error {
	done := observeQuery("set_broken")
	for chunk := range slices.Chunk(ids, maxBatchParams) {
		args := append([]any{boolToInt(broken), time.Now().UnixMilli()}, anySlice(chunk)...)
		res, err := t.tx.ExecContext(ctx,
			"UPDATE files SET broken = ?, date_last_indexed = ? WHERE id IN ("+placeholders(len(chunk))+")", args...)
		if err != nil {
			done(err)
			return err
		}
		recordRows("set_broken", res)
	}
	done(nil)
	return nil
}

// AddFileTags tags every file with every tag.
func (t *Tx) AddFileTags(ctx context.Context, fileIDs, tagIDs []string) error {
	done := observeQuery("add_file_tags")
	for _, fileID := range fileIDs {
		for _, tagID := range tagIDs {
			if _, err := t.tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO file_tags (file_id, tag_id) VALUES (?, ?)", fileID, tagID); err != nil {
				done(err)
				return fmt.Errorf("tag file %s with %s: %w", fileID, tagID, err)
			}
		}
	}
	done(nil)
	return nil
}

// RemoveFileTags removes every tag from every file.
func (t *Tx) RemoveFileTags(ctx context.Context, fileIDs, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	done := observeQuery("remove_file_tags")
	for chunk := range slices.Chunk(fileIDs, maxBatchParams) {
		args := append(anySlice(chunk), anySlice(tagIDs)...)
		res, err := t.tx.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM file_tags WHERE file_id IN (%s) AND tag_id IN (%s)",
			placeholders(len(chunk)), placeholders(len(tagIDs))), args...)
		if err != nil {
			done(err)
			return err
		}
		recordRows("remove_file_tags", res)
	}
	done(nil)
	return nil
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
