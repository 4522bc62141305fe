package database

import (
	"context"
	"database/sql"
	"strings"
)

// IndexCatalog records which file attributes lead an index, and with which
// collation. A case-sensitive index uses BINARY; a case-folded one FOLD.
type IndexCatalog struct {
	binary map[string]bool
	folded map[string]bool
}

// HasIndex reports whether key leads an index with the requested case
// sensitivity.
func (c *IndexCatalog) HasIndex(key string, fold bool) bool {
	if c == nil {
		return false
	}
	if fold {
		return c.folded[key]
	}
	return c.binary[key]
}

func loadIndexCatalog(ctx context.Context, db *sql.DB) (*IndexCatalog, error) {
	keyByColumn := make(map[string]string, len(columns))
	for key, col := range columns {
		keyByColumn[col] = key
	}

	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_index_list('files')")
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	c := &IndexCatalog{binary: map[string]bool{}, folded: map[string]bool{}}
	for _, name := range names {
		var col sql.NullString
		var coll string
		err := db.QueryRowContext(ctx, `
			SELECT name, coll FROM pragma_index_xinfo(?)
			WHERE key = 1 ORDER BY seqno LIMIT 1
		`, name).Scan(&col, &coll)
		if err == sql.ErrNoRows || !col.Valid {
			continue
		}
		if err != nil {
			return nil, err
		}
		key, ok := keyByColumn[col.String]
		if !ok {
			continue
		}
		switch strings.ToUpper(coll) {
		case "BINARY":
			c.binary[key] = true
		case FoldCollation:
			c.folded[key] = true
		}
	}

	// The primary key is backed by the table itself.
	c.binary["id"] = true
	return c, nil
}
