package executor

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/compiler"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/logging"
	"github.com/RafaUC/Allusion-sub000/internal/metrics"
	"github.com/RafaUC/Allusion-sub000/internal/query"
)

// DefaultPageSize is used when a request has no limit.
const DefaultPageSize = 200

// Store is the part of the database the executor reads from.
type Store interface {
	ScanFiles(ctx context.Context, req database.ScanRequest, fn func(database.Row) error) error
	CountFiles(ctx context.Context, expr database.IndexExpr) (int, error)
	OrderValue(ctx context.Context, id string, order database.Order) (any, error)
}

// Request is a search: what to match, how to order it and how many files
// a page holds.
type Request struct {
	Criteria *query.Group
	Order    database.Order
	Limit    int
}

// Page is one window of ordered results.
type Page struct {
	Files []database.File
	// First and Last are the cursors of the first and last file, nil for
	// an empty page. Pass them to Before and After to move.
	First *database.Cursor
	Last  *database.Cursor
	// AnchorIndex is the position of the anchor file in Files, or -1.
	AnchorIndex int
	// Seed is the shuffle of a random-order page. Later pages must reuse
	// it for the cursors to stay valid.
	Seed int64
}

// Executor runs requests against a store.
type Executor struct {
	store    Store
	compiler *compiler.Compiler
	log      *logging.Logger
}

// New returns an executor.
func New(store Store, c *compiler.Compiler) *Executor {
	return &Executor{store: store, compiler: c, log: logging.Named("executor")}
}

// Initial loads the first page of req. With an anchor id, the page is
// split around the anchor: up to half the page before it and the rest
// from it onward. Without one, it loads forward from the start.
func (e *Executor) Initial(ctx context.Context, req Request, anchorID string) (*Page, error) {
	start := time.Now()
	defer observeSearch("initial", start)

	p, err := Compile(e.compiler, req.Criteria)
	if err != nil {
		return nil, err
	}
	limit := pageSize(req.Limit)

	if anchorID == "" {
		return e.forward(ctx, p, req.Order, nil, limit)
	}

	value, err := e.store.OrderValue(ctx, anchorID, req.Order)
	if errors.Is(err, database.ErrNotFound) {
		e.log.Debug("anchor %s not found, loading from start", anchorID)
		return e.forward(ctx, p, req.Order, nil, limit)
	}
	if err != nil {
		return nil, err
	}
	anchor := database.Cursor{ID: anchorID, Value: value}

	before, err := e.fetch(ctx, p, req.Order, &anchor, true, limit/2)
	if err != nil {
		return nil, err
	}

	// Resuming after the nearest earlier match includes the anchor itself
	// when it matches. A one-file page shows nothing before the anchor but
	// still has to find where to resume.
	nearest := before
	if limit/2 == 0 {
		nearest, err = e.fetch(ctx, p, req.Order, &anchor, true, 1)
		if err != nil {
			return nil, err
		}
	}
	var from *database.Cursor
	if len(nearest) > 0 {
		last := nearest[len(nearest)-1]
		from = &database.Cursor{ID: last.File.ID, Value: last.OrderValue}
	}
	after, err := e.fetch(ctx, p, req.Order, from, false, limit-len(before))
	if err != nil {
		return nil, err
	}

	page := newPage(append(before, after...))
	page.AnchorIndex = slices.IndexFunc(page.Files, func(f database.File) bool { return f.ID == anchorID })
	metrics.SearchResults.Observe(float64(len(page.Files)))
	return page, nil
}

// After loads the page following cursor, excluding it. It returns an
// empty page at the end.
func (e *Executor) After(ctx context.Context, req Request, cursor database.Cursor) (*Page, error) {
	start := time.Now()
	defer observeSearch("after", start)

	p, err := Compile(e.compiler, req.Criteria)
	if err != nil {
		return nil, err
	}
	return e.forward(ctx, p, req.Order, &cursor, pageSize(req.Limit))
}

// Before loads the page preceding cursor, excluding it. It returns an
// empty page at the start.
func (e *Executor) Before(ctx context.Context, req Request, cursor database.Cursor) (*Page, error) {
	start := time.Now()
	defer observeSearch("before", start)

	p, err := Compile(e.compiler, req.Criteria)
	if err != nil {
		return nil, err
	}
	rows, err := e.fetch(ctx, p, req.Order, &cursor, true, pageSize(req.Limit))
	if err != nil {
		return nil, err
	}
	return newPage(rows), nil
}

// Count returns the number of files matching criteria.
func (e *Executor) Count(ctx context.Context, criteria *query.Group) (int, error) {
	start := time.Now()
	defer observeSearch("count", start)

	p, err := Compile(e.compiler, criteria)
	if err != nil {
		return 0, err
	}
	if p.Filter == nil {
		return e.store.CountFiles(ctx, p.Index)
	}

	n := 0
	err = e.store.ScanFiles(ctx, database.ScanRequest{Index: p.Index, Order: database.Order{Key: "id"}},
		func(r database.Row) error {
			metrics.ScannedRows.Inc()
			if p.Filter(&r.File) {
				n++
			}
			return nil
		})
	return n, err
}

func (e *Executor) forward(ctx context.Context, p compiler.Predicate, order database.Order, cursor *database.Cursor, limit int) (*Page, error) {
	rows, err := e.fetch(ctx, p, order, cursor, false, limit)
	if err != nil {
		return nil, err
	}
	page := newPage(rows)
	metrics.SearchResults.Observe(float64(len(page.Files)))
	return page, nil
}

// fetch collects up to limit matching rows strictly past cursor. Rows are
// returned in display order, also when walking backward.
func (e *Executor) fetch(ctx context.Context, p compiler.Predicate, order database.Order, cursor *database.Cursor, backward bool, limit int) ([]database.Row, error) {
	if limit <= 0 {
		return nil, nil
	}
	req := database.ScanRequest{Index: p.Index, Order: order, Cursor: cursor, Backward: backward}
	if p.Filter == nil {
		req.Limit = limit
	}

	rows := make([]database.Row, 0, limit)
	err := e.store.ScanFiles(ctx, req, func(r database.Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Filter != nil {
			metrics.ScannedRows.Inc()
			if !p.Filter(&r.File) {
				return nil
			}
		}
		rows = append(rows, r)
		if len(rows) >= limit {
			return database.ErrStopScan
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if backward {
		slices.Reverse(rows)
	}
	return rows, nil
}

func newPage(rows []database.Row) *Page {
	page := &Page{Files: make([]database.File, len(rows)), AnchorIndex: -1}
	for i, r := range rows {
		page.Files[i] = r.File
	}
	if len(rows) > 0 {
		first, last := rows[0], rows[len(rows)-1]
		page.First = &database.Cursor{ID: first.File.ID, Value: first.OrderValue}
		page.Last = &database.Cursor{ID: last.File.ID, Value: last.OrderValue}
	}
	return page
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}

func observeSearch(direction string, start time.Time) {
	metrics.SearchDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
}
