package aggregate

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/logging"
	"github.com/RafaUC/Allusion-sub000/internal/metrics"
	"github.com/RafaUC/Allusion-sub000/internal/taggraph"
	"github.com/RafaUC/Allusion-sub000/internal/workers"
)

// Default settings
const (
	DefaultDebounce  = 300 * time.Millisecond
	DefaultBatchSize = 100
)

// drainTimeout bounds a background drain started by the debounce timer.
const drainTimeout = 2 * time.Minute

// Kind names a global counter.
type Kind string

// Global counters
const (
	Total    Kind = "total"
	Untagged Kind = "untagged"
	Missing  Kind = "missing"
)

var allKinds = []Kind{Total, Untagged, Missing}

// Store is the part of the database the maintainer reads and writes.
type Store interface {
	FileIDsByTags(ctx context.Context, tagIDs []string) (map[string][]string, error)
	SaveTagCounts(ctx context.Context, counts map[string]int) error
	CountFiles(ctx context.Context, expr database.IndexExpr) (int, error)
}

// Config tunes the maintainer.
type Config struct {
	Debounce  time.Duration
	BatchSize int
}

// Progress reports how many tags a full recount has processed.
type Progress func(done, total int)

// Maintainer recomputes dirty counts.
type Maintainer struct {
	store Store
	graph *taggraph.Graph
	cfg   Config
	log   *logging.Logger

	mu      sync.Mutex
	queued  map[string]struct{}
	queue   []string
	globals map[Kind]struct{}
	counts  database.Counts
	timer   *time.Timer
	closed  bool

	// drainMu serializes drains so a batch is never computed twice at once.
	drainMu sync.Mutex

	onUpdate func()
}

// New returns a maintainer over graph. Zero config values take defaults.
func New(store Store, graph *taggraph.Graph, cfg Config) *Maintainer {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Maintainer{
		store:   store,
		graph:   graph,
		cfg:     cfg,
		log:     logging.Named("aggregate"),
		queued:  make(map[string]struct{}),
		globals: make(map[Kind]struct{}),
	}
}

// OnUpdate registers fn to run after each completed drain.
func (m *Maintainer) OnUpdate(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// MarkDirty marks tags and every tag whose count includes them as dirty
// and schedules a recomputation.
func (m *Maintainer) MarkDirty(tagIDs ...string) {
	if len(tagIDs) == 0 {
		return
	}
	visited := make(map[string]struct{})
	var dirty []string
	for _, id := range tagIDs {
		dirty = append(dirty, m.graph.ImpliedAncestors(id, visited)...)
	}
	if len(dirty) == 0 {
		return
	}
	m.graph.SetDirty(dirty...)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range dirty {
		if _, ok := m.queued[id]; ok {
			continue
		}
		m.queued[id] = struct{}{}
		m.queue = append(m.queue, id)
	}
	metrics.AggregateDirtyQueueLength.Set(float64(len(m.queue)))
	m.armLocked()
}

// MarkGlobalsDirty schedules recomputation of global counters. With no
// kinds, every counter is marked.
func (m *Maintainer) MarkGlobalsDirty(kinds ...Kind) {
	if len(kinds) == 0 {
		kinds = allKinds
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range kinds {
		m.globals[k] = struct{}{}
	}
	m.armLocked()
}

// Counts returns the last computed global counters.
func (m *Maintainer) Counts() database.Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts
}

// Pending returns the number of tags waiting for recomputation.
func (m *Maintainer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// PendingIDs returns the tags waiting for recomputation, in queue order.
func (m *Maintainer) PendingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.queue)
}

func (m *Maintainer) armLocked() {
	if m.closed {
		return
	}
	if m.timer == nil {
		m.timer = time.AfterFunc(m.cfg.Debounce, m.drainInBackground)
		return
	}
	m.timer.Reset(m.cfg.Debounce)
}

func (m *Maintainer) drainInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := m.Flush(ctx); err != nil {
		m.log.Error("Failed to recompute counts: %v", err)
	}
}

// Flush drains every pending recomputation now.
func (m *Maintainer) Flush(ctx context.Context) error {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	start := time.Now()
	drained := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := m.takeBatch()
		if len(batch) == 0 {
			break
		}
		drained = true
		if err := m.recompute(ctx, batch); err != nil {
			m.requeue(batch)
			return err
		}
	}
	if drained {
		metrics.AggregateRecomputeDuration.WithLabelValues("drain").Observe(time.Since(start).Seconds())
	}

	if err := m.recomputeGlobals(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	fn := m.onUpdate
	m.mu.Unlock()
	if fn != nil && drained {
		fn()
	}
	return nil
}

func (m *Maintainer) takeBatch() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := min(len(m.queue), m.cfg.BatchSize)
	batch := slices.Clone(m.queue[:n])
	m.queue = m.queue[n:]
	for _, id := range batch {
		delete(m.queued, id)
	}
	metrics.AggregateDirtyQueueLength.Set(float64(len(m.queue)))
	return batch
}

func (m *Maintainer) requeue(batch []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range batch {
		if _, ok := m.queued[id]; ok {
			continue
		}
		m.queued[id] = struct{}{}
		m.queue = append(m.queue, id)
	}
	metrics.AggregateDirtyQueueLength.Set(float64(len(m.queue)))
}

// reschedule queues tags left unfinished and arms the debounce timer.
func (m *Maintainer) reschedule(ids []string) {
	m.requeue(ids)
	m.mu.Lock()
	m.armLocked()
	m.mu.Unlock()
}

// recompute counts a batch of tags with one store query and persists the
// counts in one transaction.
func (m *Maintainer) recompute(ctx context.Context, batch []string) error {
	expansions := make(map[string]map[string]struct{}, len(batch))
	union := make(map[string]struct{})
	for _, id := range batch {
		if !m.graph.Has(id) {
			continue
		}
		exp := m.graph.Expand(id)
		expansions[id] = exp
		for t := range exp {
			union[t] = struct{}{}
		}
	}
	if len(expansions) == 0 {
		return nil
	}

	tagIDs := make([]string, 0, len(union))
	for t := range union {
		tagIDs = append(tagIDs, t)
	}
	byTag, err := m.store.FileIDsByTags(ctx, tagIDs)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(expansions))
	for id := range expansions {
		ids = append(ids, id)
	}
	var mu sync.Mutex
	counts := make(map[string]int, len(ids))
	err = workers.ForEach(ctx, workers.ForCPU(len(ids)), ids, func(_ context.Context, id string) error {
		files := make(map[string]struct{})
		for t := range expansions[id] {
			for _, f := range byTag[t] {
				files[f] = struct{}{}
			}
		}
		mu.Lock()
		counts[id] = len(files)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.store.SaveTagCounts(ctx, counts); err != nil {
		return err
	}
	for id, n := range counts {
		m.graph.SetCount(id, n, false)
	}
	metrics.AggregateTagsRecomputed.Add(float64(len(counts)))
	m.log.Debug("Recomputed %d tag counts", len(counts))
	return nil
}

func (m *Maintainer) recomputeGlobals(ctx context.Context) error {
	m.mu.Lock()
	kinds := make([]Kind, 0, len(m.globals))
	for k := range m.globals {
		kinds = append(kinds, k)
	}
	clear(m.globals)
	m.mu.Unlock()
	if len(kinds) == 0 {
		return nil
	}

	start := time.Now()
	values := make(map[Kind]int, len(kinds))
	for _, k := range kinds {
		n, err := m.store.CountFiles(ctx, globalExpr(k))
		if err != nil {
			m.MarkGlobalsDirty(kinds...)
			return err
		}
		values[k] = n
	}

	m.mu.Lock()
	for k, n := range values {
		switch k {
		case Total:
			m.counts.Total = n
		case Untagged:
			m.counts.Untagged = n
		case Missing:
			m.counts.Missing = n
		}
		metrics.CatalogFilesTotal.WithLabelValues(stateLabel(k)).Set(float64(n))
	}
	m.mu.Unlock()
	metrics.AggregateRecomputeDuration.WithLabelValues("globals").Observe(time.Since(start).Seconds())
	return nil
}

func globalExpr(k Kind) database.IndexExpr {
	switch k {
	case Untagged:
		return database.TagsEmpty{}
	case Missing:
		return database.Compare{Key: "broken", Op: database.OpEq, Value: 1}
	}
	return nil
}

func stateLabel(k Kind) string {
	if k == Total {
		return "all"
	}
	return string(k)
}

// RecountAll recomputes every tag count in batches, checking ctx between
// batches. Counts finished before a cancellation or failure are kept; the
// remaining tags go back on the dirty queue.
func (m *Maintainer) RecountAll(ctx context.Context, progress Progress) error {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	start := time.Now()
	tags := m.graph.All()
	ids := make([]string, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	m.graph.SetDirty(ids...)

	done := 0
	for batch := range slices.Chunk(ids, m.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			m.log.Warn("Recount cancelled after %d of %d tags", done, len(ids))
			m.reschedule(ids[done:])
			return err
		}
		if err := m.recompute(ctx, batch); err != nil {
			m.reschedule(ids[done:])
			return err
		}
		done += len(batch)
		if progress != nil {
			progress(done, len(ids))
		}
	}

	m.mu.Lock()
	for _, k := range allKinds {
		m.globals[k] = struct{}{}
	}
	m.mu.Unlock()
	if err := m.recomputeGlobals(ctx); err != nil {
		return err
	}

	metrics.AggregateRecomputeDuration.WithLabelValues("full").Observe(time.Since(start).Seconds())
	m.log.Info("Recounted %d tags in %v", len(ids), time.Since(start))
	return nil
}

// Close stops the debounce timer. Pending work is dropped; call Flush
// first to keep it.
func (m *Maintainer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
}
