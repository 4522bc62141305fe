package executor

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/metrics"
	"github.com/RafaUC/Allusion-sub000/internal/query"
)

// ErrStale is returned for a fetch that was superseded by a newer one
// before it finished. Its results are discarded.
var ErrStale = errors.New("search superseded by a newer fetch")

// Session is one interactive view over the catalog: it owns the current
// criteria, order and visible list, and makes sure only the latest fetch
// updates them.
type Session struct {
	exec *Executor

	mu       sync.Mutex
	task     uint64
	cancel   context.CancelFunc
	criteria *query.Group
	order    database.Order
	limit    int
	visible  []database.File
	first    *database.Cursor
	last     *database.Cursor
}

// NewSession returns a session ordered by date added, newest first.
func NewSession(exec *Executor, limit int) *Session {
	return &Session{
		exec:     exec,
		criteria: query.All(),
		order:    database.Order{Key: "dateAdded", Desc: true},
		limit:    pageSize(limit),
	}
}

// SetOrder changes the order of later fetches. Switching to random order
// draws a new seed.
func (s *Session) SetOrder(order database.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.Key == database.OrderRandom {
		if s.order.Key != database.OrderRandom {
			order.Seed = rand.Int64()
		} else if order.Seed == 0 {
			order.Seed = s.order.Seed
		}
	}
	s.order = order
}

// Reseed draws a new seed for random order.
func (s *Session) Reseed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Seed = rand.Int64()
}

// Order returns the current order.
func (s *Session) Order() database.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order
}

// Visible returns a copy of the files currently shown.
func (s *Session) Visible() []database.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.File, len(s.visible))
	copy(out, s.visible)
	return out
}

// Search replaces the criteria and loads the first page around anchorID.
func (s *Session) Search(ctx context.Context, criteria *query.Group, anchorID string) (*Page, error) {
	return s.run(ctx, func(ctx context.Context, req Request) (*Page, error) {
		return s.exec.Initial(ctx, req, anchorID)
	}, criteria, replace)
}

// Next appends the page after the visible list.
func (s *Session) Next(ctx context.Context) (*Page, error) {
	return s.run(ctx, func(ctx context.Context, req Request) (*Page, error) {
		s.mu.Lock()
		last := s.last
		s.mu.Unlock()
		if last == nil {
			return newPage(nil), nil
		}
		return s.exec.After(ctx, req, *last)
	}, nil, appendPage)
}

// Prev prepends the page before the visible list.
func (s *Session) Prev(ctx context.Context) (*Page, error) {
	return s.run(ctx, func(ctx context.Context, req Request) (*Page, error) {
		s.mu.Lock()
		first := s.first
		s.mu.Unlock()
		if first == nil {
			return newPage(nil), nil
		}
		return s.exec.Before(ctx, req, *first)
	}, nil, prependPage)
}

type mergeMode int

const (
	replace mergeMode = iota
	appendPage
	prependPage
)

// run starts a new task, cancelling the previous one, and applies its page
// only if no newer task started meanwhile.
func (s *Session) run(ctx context.Context, fetch func(context.Context, Request) (*Page, error), criteria *query.Group, mode mergeMode) (*Page, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.task++
	task := s.task
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if criteria != nil {
		s.criteria = criteria
	}
	req := Request{Criteria: s.criteria, Order: s.order, Limit: s.limit}
	s.mu.Unlock()
	defer cancel()

	page, err := fetch(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if task != s.task {
		metrics.SearchStaleDiscarded.Inc()
		return nil, ErrStale
	}
	s.cancel = nil
	if err != nil {
		return nil, err
	}
	if req.Order.Key == database.OrderRandom {
		page.Seed = req.Order.Seed
	}

	switch mode {
	case replace:
		s.visible = page.Files
		s.first, s.last = page.First, page.Last
	case appendPage:
		if len(page.Files) > 0 {
			s.visible = append(s.visible, page.Files...)
			s.last = page.Last
		}
	case prependPage:
		if len(page.Files) > 0 {
			s.visible = append(append([]database.File{}, page.Files...), s.visible...)
			s.first = page.First
		}
	}
	return page, nil
}
