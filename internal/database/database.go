package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/logging"
	"github.com/RafaUC/Allusion-sub000/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// scanTimeout bounds streaming scans, which may walk the whole files table.
const scanTimeout = 30 * time.Second

// SchemaVersion is written to the metadata table and to exported snapshots.
const SchemaVersion = 1

// Database manages all catalog storage.
type Database struct {
	db      *sql.DB
	dbPath  string
	mu      sync.RWMutex
	indexes *IndexCatalog
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens (creating if needed) the catalog database at dbPath.
// dbPath is the full path to the database FILE, and its parent directory
// must already exist and be writable.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// busy_timeout helps prevent "database is locked" errors
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=1", dbPath)

	db, err := sql.Open(DriverName, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		date_added INTEGER NOT NULL,
		idx INTEGER NOT NULL DEFAULT 0,
		is_watching_files INTEGER NOT NULL DEFAULT 0,
		sub_locations TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		absolute_path TEXT NOT NULL UNIQUE,
		relative_path TEXT NOT NULL,
		name TEXT NOT NULL,
		extension TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		date_created INTEGER NOT NULL DEFAULT 0,
		date_modified INTEGER NOT NULL DEFAULT 0,
		date_added INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (location_id) REFERENCES locations(id) ON DELETE CASCADE
	);

	-- Tags. The root tag is implicit: top-level tags have parent_id 'root'.
	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		is_hidden INTEGER NOT NULL DEFAULT 0,
		is_visible_inherited INTEGER NOT NULL DEFAULT 1,
		is_header INTEGER NOT NULL DEFAULT 0,
		date_added INTEGER NOT NULL,
		file_count INTEGER NOT NULL DEFAULT 0,
		file_count_dirty INTEGER NOT NULL DEFAULT 1,
		parent_id TEXT NOT NULL DEFAULT 'root',
		position INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tag_edges (
		tag_id TEXT NOT NULL,
		implied_id TEXT NOT NULL,
		PRIMARY KEY (tag_id, implied_id),
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE,
		FOREIGN KEY (implied_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tag_aliases (
		tag_id TEXT NOT NULL,
		alias TEXT NOT NULL,
		PRIMARY KEY (tag_id, alias),
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS file_tags (
		file_id TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		PRIMARY KEY (file_id, tag_id),
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS extra_properties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('number', 'text')),
		date_added INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS file_extra_properties (
		file_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		value_num REAL,
		value_text TEXT,
		PRIMARY KEY (file_id, property_id),
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
		FOREIGN KEY (property_id) REFERENCES extra_properties(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS saved_searches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		idx INTEGER NOT NULL DEFAULT 0,
		root_group TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`

// indexSchema runs after migrations, since some indexed columns are added
// by them.
const indexSchema = `
	CREATE INDEX IF NOT EXISTS idx_files_location ON files(location_id);
	CREATE INDEX IF NOT EXISTS idx_files_relative_path ON files(relative_path);
	CREATE INDEX IF NOT EXISTS idx_files_name ON files(name);
	CREATE INDEX IF NOT EXISTS idx_files_name_fold ON files(name COLLATE FOLD);
	CREATE INDEX IF NOT EXISTS idx_files_extension ON files(extension);
	CREATE INDEX IF NOT EXISTS idx_files_extension_fold ON files(extension COLLATE FOLD);
	CREATE INDEX IF NOT EXISTS idx_files_size ON files(size);
	CREATE INDEX IF NOT EXISTS idx_files_width ON files(width);
	CREATE INDEX IF NOT EXISTS idx_files_height ON files(height);
	CREATE INDEX IF NOT EXISTS idx_files_date_created ON files(date_created);
	CREATE INDEX IF NOT EXISTS idx_files_date_modified ON files(date_modified);
	CREATE INDEX IF NOT EXISTS idx_files_date_added ON files(date_added);
	CREATE INDEX IF NOT EXISTS idx_files_date_last_indexed ON files(date_last_indexed);
	CREATE INDEX IF NOT EXISTS idx_files_broken ON files(broken);

	CREATE INDEX IF NOT EXISTS idx_file_tags_tag ON file_tags(tag_id, file_id);
	CREATE INDEX IF NOT EXISTS idx_tag_edges_implied ON tag_edges(implied_id);
	CREATE INDEX IF NOT EXISTS idx_file_extra_properties_property ON file_extra_properties(property_id, file_id);
	`

func (d *Database) initialize(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	if err := d.runMigrations(ctx); err != nil {
		return err
	}

	if _, err := d.db.ExecContext(ctx, indexSchema); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, fmt.Sprint(SchemaVersion)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	indexes, err := loadIndexCatalog(ctx, d.db)
	if err != nil {
		return fmt.Errorf("failed to load index catalog: %w", err)
	}
	d.indexes = indexes
	return nil
}

// migration adds a column that older databases lack.
type migration struct {
	table  string
	column string
	ddl    string
}

var migrations = []migration{
	{"files", "date_last_indexed", "ALTER TABLE files ADD COLUMN date_last_indexed INTEGER NOT NULL DEFAULT 0"},
	{"files", "broken", "ALTER TABLE files ADD COLUMN broken INTEGER NOT NULL DEFAULT 0"},
}

// runMigrations applies database schema migrations
func (d *Database) runMigrations(ctx context.Context) error {
	for _, m := range migrations {
		var columnExists bool
		err := d.db.QueryRowContext(ctx, `
			SELECT COUNT(*) > 0
			FROM pragma_table_info(?)
			WHERE name = ?
		`, m.table, m.column).Scan(&columnExists)
		if err != nil {
			return fmt.Errorf("failed to check for %s.%s column: %w", m.table, m.column, err)
		}
		if columnExists {
			continue
		}

		logging.Info("Migrating database: adding %s column to %s table", m.column, m.table)
		if _, err := d.db.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("failed to add %s column: %w", m.column, err)
		}
		logging.Info("Migration complete: %s column added", m.column)
	}
	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// Indexes reports which file attributes carry text indexes.
func (d *Database) Indexes() *IndexCatalog {
	return d.indexes
}

// Tx is a write transaction. Obtain one through WithTx.
type Tx struct {
	tx    *sql.Tx
	start time.Time
}

// BeginBatch starts a transaction for batch operations.
// The caller is responsible for calling EndBatch when done.
func (d *Database) BeginBatch(ctx context.Context) (*Tx, error) {
	// Only transaction creation is serialized; SQLite's busy timeout
	// handles writers after that.
	d.mu.Lock()
	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, start: start}, nil
}

// EndBatch commits or rolls back a transaction.
func (d *Database) EndBatch(tx *Tx, err error) error {
	duration := time.Since(tx.start).Seconds()

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		if rbErr := tx.tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return tx.tx.Commit()
}

// WithTx runs fn in one transaction, committing when fn returns nil.
func (d *Database) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := d.BeginBatch(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.tx.Rollback()
			panic(p)
		}
	}()
	return d.EndBatch(tx, fn(tx))
}

// GetStats returns the current catalog statistics.
func (d *Database) GetStats(ctx context.Context) (metrics.Stats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stats metrics.Stats
	err = d.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM files f WHERE NOT EXISTS (SELECT 1 FROM file_tags ft WHERE ft.file_id = f.id)),
			(SELECT COUNT(*) FROM files WHERE broken = 1),
			(SELECT COUNT(*) FROM tags),
			(SELECT COUNT(*) FROM locations)
	`).Scan(&stats.TotalFiles, &stats.UntaggedFiles, &stats.MissingFiles, &stats.TotalTags, &stats.TotalLocations)
	return stats, err
}

// Vacuum optimizes the database.
func (d *Database) Vacuum(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// observeQuery starts timing an operation; call the returned func with its
// result.
func observeQuery(operation string) func(error) {
	start := time.Now()
	return func(err error) { recordQuery(operation, start, err) }
}

func recordRows(operation string, res sql.Result) {
	if res == nil {
		return
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		metrics.DBRowsAffected.WithLabelValues(operation).Observe(float64(rows))
	}
}

func recordRowCount(operation string, n int) {
	metrics.DBRowsAffected.WithLabelValues(operation).Observe(float64(n))
}

// UpdateDBMetrics updates database connection metrics
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}

	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	if dbInfo, err := os.Stat(dbPath); err == nil {
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", dbPath, dbInfo.Mode(), dbInfo.Size())
		if dbInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("Database file is read-only! Mode: %v", dbInfo.Mode())
		}
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		path := dbPath + suffix
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("%s is read-only! Mode: %v - this will cause write failures", path, info.Mode())
			if chmodErr := os.Chmod(path, 0o600); chmodErr != nil {
				logging.Error("Failed to fix %s permissions: %v", path, chmodErr)
			} else {
				logging.Info("Fixed %s permissions", path)
			}
		}
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
