package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
)

// LoadTags returns every tag row with its aliases, and every implication
// edge.
func (d *Database) LoadTags(ctx context.Context) ([]TagRow, []ImplicationRow, error) {
	done := observeQuery("load_tags")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tags, edges, err := loadTags(ctx, d.db)
	done(err)
	return tags, edges, err
}

func loadTags(ctx context.Context, q querier) ([]TagRow, []ImplicationRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT t.id, t.name, t.color, t.description, t.is_hidden, t.is_visible_inherited, t.is_header,
			t.date_added, t.file_count, t.file_count_dirty, t.parent_id, t.position,
			(SELECT group_concat(a.alias, char(31)) FROM tag_aliases a WHERE a.tag_id = t.id)
		FROM tags t
		ORDER BY t.parent_id, t.position
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tags: %w", err)
	}

	var tags []TagRow
	for rows.Next() {
		var t TagRow
		var hidden, visibleInherited, header, dirty int
		var added int64
		var aliases sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.Description, &hidden, &visibleInherited, &header,
			&added, &t.FileCount, &dirty, &t.ParentID, &t.Position, &aliases); err != nil {
			_ = rows.Close()
			return nil, nil, err
		}
		t.IsHidden = hidden != 0
		t.IsVisibleInherited = visibleInherited != 0
		t.IsHeader = header != 0
		t.IsFileCountDirty = dirty != 0
		t.DateAdded = fromMillis(added)
		if aliases.Valid && aliases.String != "" {
			t.Aliases = strings.Split(aliases.String, tagSeparator)
			slices.Sort(t.Aliases)
		}
		tags = append(tags, t)
	}
	if err := rows.Close(); err != nil {
		return nil, nil, err
	}

	rows, err = q.QueryContext(ctx, "SELECT tag_id, implied_id FROM tag_edges ORDER BY tag_id, implied_id")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load implications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []ImplicationRow
	for rows.Next() {
		var e ImplicationRow
		if err := rows.Scan(&e.TagID, &e.ImpliedID); err != nil {
			return nil, nil, err
		}
		edges = append(edges, e)
	}
	return tags, edges, rows.Err()
}

// ReplaceTagTree makes the tag tables match tags and implications exactly.
func (d *Database) ReplaceTagTree(ctx context.Context, tags []TagRow, implications []ImplicationRow) error {
	return d.WithTx(ctx, func(tx *Tx) error { return tx.ReplaceTagTree(ctx, tags, implications) })
}

// ReplaceTagTree makes the tag tables match tags and implications exactly.
// Tags missing from the set are deleted, which also removes them from
// every file.
func (t *Tx) ReplaceTagTree(ctx context.Context, tags []TagRow, implications []ImplicationRow) error {
	done := observeQuery("replace_tag_tree")
	err := replaceTagTree(ctx, t.tx, tags, implications)
	done(err)
	return err
}

func replaceTagTree(ctx context.Context, q querier, tags []TagRow, implications []ImplicationRow) error {
	keep := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		keep[tag.ID] = struct{}{}
		_, err := q.ExecContext(ctx, `
			INSERT INTO tags (id, name, color, description, is_hidden, is_visible_inherited, is_header,
				date_added, file_count, file_count_dirty, parent_id, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				color = excluded.color,
				description = excluded.description,
				is_hidden = excluded.is_hidden,
				is_visible_inherited = excluded.is_visible_inherited,
				is_header = excluded.is_header,
				file_count = excluded.file_count,
				file_count_dirty = excluded.file_count_dirty,
				parent_id = excluded.parent_id,
				position = excluded.position
		`, tag.ID, tag.Name, tag.Color, tag.Description, boolToInt(tag.IsHidden), boolToInt(tag.IsVisibleInherited),
			boolToInt(tag.IsHeader), toMillis(tag.DateAdded), tag.FileCount, boolToInt(tag.IsFileCountDirty),
			tag.ParentID, tag.Position)
		if err != nil {
			return fmt.Errorf("failed to save tag %s: %w", tag.ID, err)
		}
	}

	existing, err := stringColumn(ctx, q, "SELECT id FROM tags")
	if err != nil {
		return err
	}
	var stale []string
	for _, id := range existing {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	for chunk := range slices.Chunk(stale, maxBatchParams) {
		if _, err := q.ExecContext(ctx, "DELETE FROM tags WHERE id IN ("+placeholders(len(chunk))+")", anySlice(chunk)...); err != nil {
			return fmt.Errorf("failed to delete tags: %w", err)
		}
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM tag_aliases"); err != nil {
		return err
	}
	for _, tag := range tags {
		for _, alias := range tag.Aliases {
			if _, err := q.ExecContext(ctx,
				"INSERT OR IGNORE INTO tag_aliases (tag_id, alias) VALUES (?, ?)", tag.ID, alias); err != nil {
				return fmt.Errorf("failed to save alias of %s: %w", tag.ID, err)
			}
		}
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM tag_edges"); err != nil {
		return err
	}
	for _, e := range implications {
		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO tag_edges (tag_id, implied_id) VALUES (?, ?)", e.TagID, e.ImpliedID); err != nil {
			return fmt.Errorf("failed to save implication %s -> %s: %w", e.TagID, e.ImpliedID, err)
		}
	}
	return nil
}

// ReassignTag moves every file reference of tag from onto tag to.
func (t *Tx) ReassignTag(ctx context.Context, from, to string) error {
	done := observeQuery("reassign_tag")
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO file_tags (file_id, tag_id)
		SELECT file_id, ? FROM file_tags WHERE tag_id = ?
	`, to, from)
	if err == nil {
		var res sql.Result
		res, err = t.tx.ExecContext(ctx, "DELETE FROM file_tags WHERE tag_id = ?", from)
		recordRows("reassign_tag", res)
	}
	done(err)
	return err
}

// SaveTagCounts stores recomputed file counts and clears their dirty flags.
func (d *Database) SaveTagCounts(ctx context.Context, counts map[string]int) error {
	return d.WithTx(ctx, func(tx *Tx) error { return tx.SaveTagCounts(ctx, counts) })
}

// SaveTagCounts stores recomputed file counts and clears their dirty flags.
func (t *Tx) SaveTagCounts(ctx context.Context, counts map[string]int) error {
	done := observeQuery("save_tag_counts")
	for id, n := range counts {
		if _, err := t.tx.ExecContext(ctx,
			"UPDATE tags SET file_count = ?, file_count_dirty = 0 WHERE id = ?", n, id); err != nil {
			done(err)
			return fmt.Errorf("failed to save count of %s: %w", id, err)
		}
	}
	done(nil)
	return nil
}

// MarkTagsDirty flags stored counts as stale, so a restart recomputes them.
func (d *Database) MarkTagsDirty(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	done := observeQuery("mark_tags_dirty")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	for chunk := range slices.Chunk(ids, maxBatchParams) {
		if _, err := d.db.ExecContext(ctx,
			"UPDATE tags SET file_count_dirty = 1 WHERE id IN ("+placeholders(len(chunk))+")", anySlice(chunk)...); err != nil {
			done(err)
			return err
		}
	}
	done(nil)
	return nil
}

func stringColumn(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
