package catalog

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RafaUC/Allusion-sub000/internal/aggregate"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/metrics"
	"github.com/RafaUC/Allusion-sub000/internal/retry"
)

// ingestBatchSize is how many files one ingestion transaction writes.
const ingestBatchSize = 500

// saveTimeout bounds a debounced save started by the timer.
const saveTimeout = time.Minute

// FileStats is what the disk scanner reports about a file.
type FileStats struct {
	AbsolutePath string    `json:"absolutePath"`
	Size         int64     `json:"size"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	DateCreated  time.Time `json:"dateCreated"`
	DateModified time.Time `json:"dateModified"`
}

// Diff is the difference between a location on disk and in the catalog.
type Diff struct {
	// Added are on disk but not cataloged.
	Added []FileStats `json:"added"`
	// Missing are cataloged and not broken, but gone from disk.
	Missing []database.File `json:"missing"`
	// Restored are flagged broken but back on disk.
	Restored []database.File `json:"restored"`
	// Changed were modified on disk; they carry the new size and dates.
	Changed []database.File `json:"changed"`
}

// IsEmpty reports whether the diff has nothing to apply.
func (d *Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Missing) == 0 && len(d.Restored) == 0 && len(d.Changed) == 0
}

// CreateFilesFromPath catalogs files found under a location. Paths that
// are already cataloged are skipped. New files get the tags configured on
// the sub-locations they are in. It returns how many files were added.
func (s *Service) CreateFilesFromPath(ctx context.Context, locationID string, stats []FileStats) (int, error) {
	loc, err := s.db.GetLocation(ctx, locationID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	files := make([]database.File, 0, len(stats))
	tagged := make(map[string]struct{})
	for _, st := range stats {
		f := newFile(loc, st, now)
		f.Tags = s.knownTags(subLocationTags(loc, f.RelativePath))
		for _, t := range f.Tags {
			tagged[t] = struct{}{}
		}
		files = append(files, f)
	}

	created := 0
	for batch := range slices.Chunk(files, ingestBatchSize) {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		var n int
		err := retry.Do(ctx, "insert_files", s.cfg.Retry, func(ctx context.Context) error {
			var err error
			n, err = s.db.InsertFiles(ctx, batch)
			return err
		})
		if err != nil {
			return created, fmt.Errorf("failed to insert files: %w", err)
		}
		created += n
	}

	metrics.IngestFilesTotal.WithLabelValues("created").Add(float64(created))
	if created > 0 {
		s.counts.MarkDirty(slices.Collect(maps.Keys(tagged))...)
		s.counts.MarkGlobalsDirty()
		s.notify(ChangeFiles)
	}
	s.log.Info("Cataloged %d new files in %s (%d reported)", created, loc.Path, len(stats))
	return created, nil
}

func newFile(loc *database.Location, st FileStats, now time.Time) database.File {
	rel, err := filepath.Rel(loc.Path, st.AbsolutePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(st.AbsolutePath)
	}
	name := filepath.Base(st.AbsolutePath)
	return database.File{
		ID:              uuid.NewString(),
		LocationID:      loc.ID,
		AbsolutePath:    st.AbsolutePath,
		RelativePath:    filepath.ToSlash(rel),
		Name:            name,
		Extension:       strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")),
		Size:            st.Size,
		Width:           st.Width,
		Height:          st.Height,
		DateCreated:     st.DateCreated,
		DateModified:    st.DateModified,
		DateAdded:       now,
		DateLastIndexed: now,
	}
}

// subLocationTags collects the tags of every sub-location the relative
// path passes through.
func subLocationTags(loc *database.Location, rel string) []string {
	dirs := strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/")
	subs := loc.SubLocations
	var tags []string
	for _, dir := range dirs {
		i := slices.IndexFunc(subs, func(sl database.SubLocation) bool { return sl.Name == dir })
		if i < 0 {
			break
		}
		tags = append(tags, subs[i].Tags...)
		subs = subs[i].SubLocations
	}
	return tags
}

func (s *Service) knownTags(ids []string) []string {
	var out []string
	for _, id := range ids {
		if s.graph.Has(id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// SaveFiles queues edited files for writing. Edits made in quick
// succession are coalesced into one batched write; the latest version of a
// file wins.
func (s *Service) SaveFiles(files ...database.File) {
	if len(files) == 0 {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	for _, f := range files {
		s.pending[f.ID] = f
	}
	if s.closed {
		return
	}
	if s.saveTimer == nil {
		s.saveTimer = time.AfterFunc(s.cfg.SaveDebounce, s.saveInBackground)
		return
	}
	s.saveTimer.Reset(s.cfg.SaveDebounce)
}

func (s *Service) saveInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.FlushSaves(ctx); err != nil {
		s.log.Error("Failed to save files: %v", err)
	}
}

// FlushSaves writes every queued file now.
func (s *Service) FlushSaves(ctx context.Context) error {
	s.saveMu.Lock()
	if len(s.pending) == 0 {
		s.saveMu.Unlock()
		return nil
	}
	files := slices.Collect(maps.Values(s.pending))
	clear(s.pending)
	s.saveMu.Unlock()

	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	before, err := s.db.GetFiles(ctx, ids)
	if err != nil {
		s.requeueSaves(files)
		return err
	}

	err = retry.Do(ctx, "save_files", s.cfg.Retry, func(ctx context.Context) error {
		return s.db.UpdateFiles(ctx, files)
	})
	if err != nil {
		s.requeueSaves(files)
		return fmt.Errorf("failed to save %d files: %w", len(files), err)
	}

	metrics.IngestFilesTotal.WithLabelValues("saved").Add(float64(len(files)))
	s.counts.MarkDirty(changedTags(before, files)...)
	s.counts.MarkGlobalsDirty(aggregate.Untagged, aggregate.Missing)
	s.notify(ChangeFiles, ids...)
	return nil
}

func (s *Service) requeueSaves(files []database.File) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	for _, f := range files {
		if _, newer := s.pending[f.ID]; !newer {
			s.pending[f.ID] = f
		}
	}
}

// changedTags returns the tags added to or removed from any file.
func changedTags(before, after []database.File) []string {
	old := make(map[string][]string, len(before))
	for _, f := range before {
		old[f.ID] = f.Tags
	}
	changed := make(map[string]struct{})
	for _, f := range after {
		prev := old[f.ID]
		for _, t := range f.Tags {
			if !slices.Contains(prev, t) {
				changed[t] = struct{}{}
			}
		}
		for _, t := range prev {
			if !slices.Contains(f.Tags, t) {
				changed[t] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(changed))
}

// RemoveFiles deletes files from the catalog.
func (s *Service) RemoveFiles(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	files, err := s.db.GetFiles(ctx, ids)
	if err != nil {
		return err
	}
	tags := make(map[string]struct{})
	for _, f := range files {
		for _, t := range f.Tags {
			tags[t] = struct{}{}
		}
	}

	for batch := range slices.Chunk(ids, ingestBatchSize) {
		err := retry.Do(ctx, "delete_files", s.cfg.Retry, func(ctx context.Context) error {
			return s.db.DeleteFiles(ctx, batch)
		})
		if err != nil {
			return fmt.Errorf("failed to remove files: %w", err)
		}
	}

	metrics.IngestFilesTotal.WithLabelValues("removed").Add(float64(len(files)))
	s.counts.MarkDirty(slices.Collect(maps.Keys(tags))...)
	s.counts.MarkGlobalsDirty()
	s.notify(ChangeFiles, ids...)
	return nil
}

// CompareFiles diffs what the disk scanner found under a location against
// the catalog. Files are matched by absolute path.
func (s *Service) CompareFiles(ctx context.Context, locationID string, stats []FileStats) (*Diff, error) {
	cataloged, err := s.db.FilesByLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]database.File, len(cataloged))
	for _, f := range cataloged {
		byPath[f.AbsolutePath] = f
	}

	diff := &Diff{}
	seen := make(map[string]struct{}, len(stats))
	for _, st := range stats {
		seen[st.AbsolutePath] = struct{}{}
		f, ok := byPath[st.AbsolutePath]
		if !ok {
			diff.Added = append(diff.Added, st)
			continue
		}
		if f.Broken {
			f.Broken = false
			applyStats(&f, st)
			diff.Restored = append(diff.Restored, f)
			continue
		}
		if f.Size != st.Size || !f.DateModified.Equal(st.DateModified) {
			applyStats(&f, st)
			diff.Changed = append(diff.Changed, f)
		}
	}
	for _, f := range cataloged {
		if _, ok := seen[f.AbsolutePath]; !ok && !f.Broken {
			diff.Missing = append(diff.Missing, f)
		}
	}
	return diff, nil
}

func applyStats(f *database.File, st FileStats) {
	f.Size = st.Size
	f.DateModified = st.DateModified
	if !st.DateCreated.IsZero() {
		f.DateCreated = st.DateCreated
	}
	if st.Width > 0 || st.Height > 0 {
		f.Width, f.Height = st.Width, st.Height
	}
	f.DateLastIndexed = time.Now().UTC()
}

// ApplyDiff brings the catalog in line with a diff from CompareFiles:
// added files are cataloged, missing ones flagged broken, restored ones
// unflagged and changed ones updated.
func (s *Service) ApplyDiff(ctx context.Context, locationID string, diff *Diff) error {
	if diff == nil || diff.IsEmpty() {
		return nil
	}
	if _, err := s.CreateFilesFromPath(ctx, locationID, diff.Added); err != nil {
		return err
	}

	missing := fileIDs(diff.Missing)
	updated := append(slices.Clone(diff.Restored), diff.Changed...)
	err := retry.Do(ctx, "apply_diff", s.cfg.Retry, func(ctx context.Context) error {
		return s.db.WithTx(ctx, func(tx *database.Tx) error {
			if err := tx.SetBroken(ctx, missing, true); err != nil {
				return err
			}
			return tx.UpdateFiles(ctx, updated)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to apply disk changes: %w", err)
	}

	metrics.IngestFilesTotal.WithLabelValues("broken").Add(float64(len(missing)))
	metrics.IngestFilesTotal.WithLabelValues("restored").Add(float64(len(diff.Restored)))
	metrics.IngestFilesTotal.WithLabelValues("saved").Add(float64(len(diff.Changed)))
	s.counts.MarkGlobalsDirty(aggregate.Missing)
	s.notify(ChangeFiles, append(missing, fileIDs(updated)...)...)
	s.log.Info("Applied disk changes: %d added, %d missing, %d restored, %d changed",
		len(diff.Added), len(missing), len(diff.Restored), len(diff.Changed))
	return nil
}

func fileIDs(files []database.File) []string {
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids
}
