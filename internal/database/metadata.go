package database

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Metadata keys
const (
	MetaLastRecount = "last_recount"
	MetaRandomSeed  = "random_seed"
)

// GetMetadata retrieves a metadata value by key.
// Returns ErrNotFound if the key doesn't exist.
func (d *Database) GetMetadata(ctx context.Context, key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var value string
	err := d.db.QueryRowContext(ctx, "SELECT COALESCE(value, '') FROM metadata WHERE key = ?", key).Scan(&value)
	if isNoRows(err) {
		return "", fmt.Errorf("metadata %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetMetadata sets a metadata key-value pair.
func (d *Database) SetMetadata(ctx context.Context, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetLastRecount returns when tag counts were last fully recomputed.
// Returns zero time if never run.
func (d *Database) GetLastRecount(ctx context.Context) (time.Time, error) {
	value, err := d.GetMetadata(ctx, MetaLastRecount)
	if err != nil || value == "" {
		if err != nil && !isNotFound(err) {
			return time.Time{}, err
		}
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

// SetLastRecount stores when tag counts were last fully recomputed.
func (d *Database) SetLastRecount(ctx context.Context, t time.Time) error {
	if t.IsZero() {
		return d.SetMetadata(ctx, MetaLastRecount, "")
	}
	return d.SetMetadata(ctx, MetaLastRecount, t.UTC().Format(time.RFC3339))
}

// GetRandomSeed returns the persisted random-order seed, if any.
func (d *Database) GetRandomSeed(ctx context.Context) (int64, bool, error) {
	value, err := d.GetMetadata(ctx, MetaRandomSeed)
	if isNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	seed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid random seed %q: %w", value, err)
	}
	return seed, true, nil
}

// SetRandomSeed persists the random-order seed.
func (d *Database) SetRandomSeed(ctx context.Context, seed int64) error {
	return d.SetMetadata(ctx, MetaRandomSeed, strconv.FormatInt(seed, 10))
}
