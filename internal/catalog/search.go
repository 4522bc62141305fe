package catalog

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/executor"
	"github.com/RafaUC/Allusion-sub000/internal/query"
)

// Direction selects which side of a cursor a search pages to.
type Direction string

// Pagination directions
const (
	After  Direction = "after"
	Before Direction = "before"
)

// SearchRequest is one page request.
type SearchRequest struct {
	Criteria *query.Group `json:"-"`
	// OrderBy is a file attribute, "random" or "extraProperty".
	OrderBy    string `json:"orderBy"`
	Descending bool   `json:"descending"`
	// ExtraPropertyID names the property to order by when OrderBy is
	// "extraProperty".
	ExtraPropertyID string `json:"extraPropertyId,omitempty"`
	// Seed fixes the shuffle for random order. A first page without one
	// gets a fresh seed, returned with the page.
	Seed  int64 `json:"seed,omitempty"`
	Limit int   `json:"limit,omitempty"`
	// Direction and Cursor continue from a previous page. Without a
	// direction the first page is loaded, centered on AnchorID if set.
	Direction Direction        `json:"direction,omitempty"`
	Cursor    *database.Cursor `json:"cursor,omitempty"`
	AnchorID  string           `json:"anchorId,omitempty"`
}

// SearchFiles runs one page of a search.
func (s *Service) SearchFiles(ctx context.Context, req SearchRequest) (*executor.Page, error) {
	order, err := s.resolveOrder(req)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.PageSize
	}
	criteria := req.Criteria
	if criteria == nil {
		criteria = query.All()
	}
	random := order.Key == database.OrderRandom
	if random && order.Seed == 0 {
		if req.Direction != "" {
			return nil, fmt.Errorf("%w: paging a random order needs the seed of its first page", ErrInvalidRequest)
		}
		order.Seed = newSeed()
	}
	xreq := executor.Request{Criteria: criteria, Order: order, Limit: limit}

	var page *executor.Page
	switch req.Direction {
	case "":
		page, err = s.exec.Initial(ctx, xreq, req.AnchorID)
	case After, Before:
		if req.Cursor == nil {
			return nil, fmt.Errorf("%w: paging %s needs a cursor", ErrInvalidRequest, req.Direction)
		}
		if req.Direction == After {
			page, err = s.exec.After(ctx, xreq, *req.Cursor)
		} else {
			page, err = s.exec.Before(ctx, xreq, *req.Cursor)
		}
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidRequest, req.Direction)
	}
	if err != nil {
		return nil, err
	}
	if random {
		page.Seed = order.Seed
	}
	return page, nil
}

// maxSeed keeps seeds exact in JSON numbers read as doubles.
const maxSeed = 1 << 53

// newSeed draws a shuffle seed in [1, maxSeed); zero means "none given".
func newSeed() int64 {
	return rand.Int64N(maxSeed-1) + 1
}

// CountFiles returns how many files match criteria.
func (s *Service) CountFiles(ctx context.Context, criteria *query.Group) (int, error) {
	if criteria == nil {
		criteria = query.All()
	}
	return s.exec.Count(ctx, criteria)
}

// NewSession starts an interactive search session.
func (s *Service) NewSession(limit int) *executor.Session {
	if limit <= 0 {
		limit = s.cfg.PageSize
	}
	return executor.NewSession(s.exec, limit)
}

func (s *Service) resolveOrder(req SearchRequest) (database.Order, error) {
	order := database.Order{Key: req.OrderBy, Desc: req.Descending, Seed: req.Seed}
	if req.OrderBy != database.OrderExtraProperty {
		return order, nil
	}
	typ, ok := s.props.PropertyType(req.ExtraPropertyID)
	if !ok {
		return order, fmt.Errorf("extra property %q: %w", req.ExtraPropertyID, database.ErrNotFound)
	}
	order.PropertyID = req.ExtraPropertyID
	order.PropertyType = typ
	return order, nil
}
