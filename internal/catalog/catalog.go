package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/aggregate"
	"github.com/RafaUC/Allusion-sub000/internal/compiler"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/executor"
	"github.com/RafaUC/Allusion-sub000/internal/logging"
	"github.com/RafaUC/Allusion-sub000/internal/metrics"
	"github.com/RafaUC/Allusion-sub000/internal/retry"
	"github.com/RafaUC/Allusion-sub000/internal/taggraph"
)

// DefaultSaveDebounce is how long SaveFiles waits for more edits before
// writing.
const DefaultSaveDebounce = 200 * time.Millisecond

// ErrInvalidValue is returned when a value does not fit the declared type
// of an extra property.
var ErrInvalidValue = errors.New("invalid property value")

// ErrInvalidRequest is returned for malformed search requests.
var ErrInvalidRequest = errors.New("invalid request")

// Config configures a Service.
type Config struct {
	// Location is the time zone date conditions are evaluated in.
	Location     *time.Location
	PageSize     int
	SaveDebounce time.Duration
	Aggregate    aggregate.Config
	Retry        retry.Config
}

// DefaultConfig returns the defaults used by the server.
func DefaultConfig() Config {
	return Config{
		Location:     time.Local,
		PageSize:     executor.DefaultPageSize,
		SaveDebounce: DefaultSaveDebounce,
		Retry:        retry.DefaultConfig(),
	}
}

// ChangeKind names what a committed mutation touched.
type ChangeKind string

// Change kinds
const (
	ChangeFiles      ChangeKind = "files"
	ChangeTags       ChangeKind = "tags"
	ChangeLocations  ChangeKind = "locations"
	ChangeSearches   ChangeKind = "searches"
	ChangeProperties ChangeKind = "properties"
	ChangeCounts     ChangeKind = "counts"
	ChangeImport     ChangeKind = "import"
)

// Change describes a committed mutation.
type Change struct {
	Kind ChangeKind
	IDs  []string
}

// Service is the catalog.
type Service struct {
	db       *database.Database
	graph    *taggraph.Graph
	props    *propertyCache
	exec     *executor.Executor
	counts   *aggregate.Maintainer
	cfg      Config
	log      *logging.Logger
	compiler *compiler.Compiler

	// tagMu serializes tag tree edits so the graph and the store commit in
	// the same order.
	tagMu sync.Mutex

	listenersMu  sync.RWMutex
	listeners    map[int]func(Change)
	nextListener int

	saveMu    sync.Mutex
	pending   map[string]database.File
	saveTimer *time.Timer
	closed    bool
}

// Open loads the tag graph and property definitions from db and returns a
// ready service. Tags whose stored counts are stale are scheduled for
// recomputation.
func Open(ctx context.Context, db *database.Database, cfg Config) (*Service, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = DefaultSaveDebounce
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = retry.DefaultConfig()
	}

	s := &Service{
		db:        db,
		graph:     taggraph.New(),
		props:     &propertyCache{types: make(map[string]database.PropertyType)},
		cfg:       cfg,
		log:       logging.Named("catalog"),
		listeners: make(map[int]func(Change)),
		pending:   make(map[string]database.File),
	}

	dirty, err := s.loadGraph(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.props.reload(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to load extra properties: %w", err)
	}

	s.compiler = compiler.New(s.graph, db.Indexes(), s.props, cfg.Location)
	s.exec = executor.New(db, s.compiler)
	s.counts = aggregate.New(db, s.graph, cfg.Aggregate)
	s.counts.OnUpdate(func() { s.notify(ChangeCounts) })

	if len(dirty) > 0 {
		s.log.Info("Scheduling %d stale tag counts", len(dirty))
		s.counts.MarkDirty(dirty...)
	}
	s.counts.MarkGlobalsDirty()
	metrics.CatalogTagsTotal.Set(float64(s.graph.Len()))
	return s, nil
}

// loadGraph replaces the graph with the stored tree and returns the ids of
// tags with stale counts. Repaired stray tags are written back.
func (s *Service) loadGraph(ctx context.Context) ([]string, error) {
	rows, edges, err := s.db.LoadTags(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]taggraph.Record, 0, len(rows))
	var dirty []string
	for _, r := range rows {
		records = append(records, recordFromRow(r))
		if r.IsFileCountDirty {
			dirty = append(dirty, r.ID)
		}
	}
	implications := make([]taggraph.Implication, 0, len(edges))
	for _, e := range edges {
		implications = append(implications, taggraph.Implication{Tag: e.TagID, Implied: e.ImpliedID})
	}

	if strays := s.graph.Load(records, implications); len(strays) > 0 {
		if err := s.persistTree(ctx); err != nil {
			return nil, fmt.Errorf("failed to save repaired tag tree: %w", err)
		}
	}
	return dirty, nil
}

// OnChange registers fn to run after every committed mutation and returns
// a function that unregisters it. Listeners run synchronously on the
// mutating goroutine and must not block.
func (s *Service) OnChange(fn func(Change)) (cancel func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Service) notify(kind ChangeKind, ids ...string) {
	s.listenersMu.RLock()
	listeners := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.RUnlock()
	c := Change{Kind: kind, IDs: ids}
	for _, fn := range listeners {
		fn(c)
	}
}

// Graph returns the in-memory tag graph. Callers must not mutate it.
func (s *Service) Graph() *taggraph.Graph {
	return s.graph
}

// Executor returns the query executor.
func (s *Service) Executor() *executor.Executor {
	return s.exec
}

// Counts returns the global file counters.
func (s *Service) Counts() database.Counts {
	return s.counts.Counts()
}

// PendingCounts returns how many tag counts are waiting to be recomputed.
func (s *Service) PendingCounts() int {
	return s.counts.Pending()
}

// LastRecount returns when every tag count was last recomputed.
func (s *Service) LastRecount(ctx context.Context) (time.Time, error) {
	return s.db.GetLastRecount(ctx)
}

// Stats returns catalog statistics for the metrics collector.
func (s *Service) Stats(ctx context.Context) (metrics.Stats, error) {
	return s.db.GetStats(ctx)
}

// Recount recomputes every tag count and records when it finished.
func (s *Service) Recount(ctx context.Context, progress aggregate.Progress) error {
	if err := s.counts.RecountAll(ctx, progress); err != nil {
		return err
	}
	if err := s.db.SetLastRecount(ctx, time.Now()); err != nil {
		s.log.Warn("Failed to record recount time: %v", err)
	}
	s.notify(ChangeCounts)
	return nil
}

// Flush writes pending file saves and pending count recomputations.
func (s *Service) Flush(ctx context.Context) error {
	if err := s.FlushSaves(ctx); err != nil {
		return err
	}
	return s.counts.Flush(ctx)
}

// Close flushes pending work and stops background timers. Counts that
// could not be recomputed are flagged stale in the store so the next Open
// schedules them again.
func (s *Service) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	if err != nil {
		if pending := s.counts.PendingIDs(); len(pending) > 0 {
			markCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			if markErr := s.db.MarkTagsDirty(markCtx, pending); markErr != nil {
				s.log.Error("Failed to flag %d stale tag counts: %v", len(pending), markErr)
			}
			cancel()
		}
	}

	s.saveMu.Lock()
	s.closed = true
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveMu.Unlock()

	s.counts.Close()
	return err
}

type propertyCache struct {
	mu    sync.RWMutex
	types map[string]database.PropertyType
}

// PropertyType implements compiler.PropertyTypes.
func (c *propertyCache) PropertyType(id string) (database.PropertyType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[id]
	return t, ok
}

func (c *propertyCache) reload(ctx context.Context, db *database.Database) error {
	props, err := db.ExtraProperties(ctx)
	if err != nil {
		return err
	}
	types := make(map[string]database.PropertyType, len(props))
	for _, p := range props {
		types[p.ID] = p.Type
	}
	c.mu.Lock()
	c.types = types
	c.mu.Unlock()
	return nil
}
