package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"lot_monitor/internal/model"
)

var (
	// ErrSearchInProgress is returned when the same query is already running.
	ErrSearchInProgress = errors.New("search already in progress")
	// ErrSuperseded is returned for pages of a search replaced by a newer one.
	ErrSuperseded = errors.New("search superseded")
)

// Search is one user-initiated search session. Pages are appended in result
// order; lots without a list order get one from the running offset.
type Search struct {
	ID    string `json:"id"`
	Query string `json:"query"`

	c      *Coordinator
	mu     sync.Mutex
	offset int
	pages  int
	total  Result
}

// StartSearch opens a search session for query and clears all stored lots.
// A running search for a different query is superseded.
func (c *Coordinator) StartSearch(ctx context.Context, query string) (*Search, error) {
	c.searchMu.Lock()
	if c.active != nil {
		if c.active.Query == query {
			c.searchMu.Unlock()
			c.log.Info("search already in progress, skipping", "query", query)
			return nil, ErrSearchInProgress
		}
		c.log.Info("superseding running search", "old_query", c.active.Query, "new_query", query)
	}
	s := &Search{ID: uuid.NewString(), Query: query, c: c}
	c.active = s
	c.searchMu.Unlock()

	c.log.Info("starting search", "search_id", s.ID, "query", query)
	if err := c.ClearData(ctx); err != nil {
		c.finish(s)
		return nil, fmt.Errorf("clear before search: %w", err)
	}
	return s, nil
}

// ActiveSearch returns the running search with the given ID.
func (c *Coordinator) ActiveSearch(id string) (*Search, bool) {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()
	if c.active == nil || c.active.ID != id {
		return nil, false
	}
	return c.active, true
}

func (c *Coordinator) isCurrent(s *Search) bool {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()
	return c.active == s
}

func (c *Coordinator) finish(s *Search) bool {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()
	if c.active != s {
		return false
	}
	c.active = nil
	return true
}

// AddPage ingests one page of search results. Search results are stored as
// enriched and bypass the filters.
func (s *Search) AddPage(ctx context.Context, lots []model.Lot) (Result, error) {
	if !s.c.isCurrent(s) {
		return Result{}, ErrSuperseded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page := make([]model.Lot, len(lots))
	copy(page, lots)
	for i := range page {
		if page[i].ListOrder == nil {
			order := s.offset + i
			page[i].ListOrder = &order
		}
	}
	s.offset += len(page)
	s.pages++

	res, err := s.c.ingest(ctx, page, Options{Enriched: true, SkipFilters: true}, func() bool {
		return s.c.isCurrent(s)
	})
	s.total.add(res)
	s.c.log.Info("search page stored", "search_id", s.ID, "page", s.pages, "lots", len(page), "added", res.Added)
	return res, err
}

// Finish closes the session and reports the accumulated totals. It returns
// ErrSuperseded when a newer search replaced this one.
func (s *Search) Finish() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.c.finish(s) {
		return s.total, ErrSuperseded
	}
	s.c.log.Info("search finished", "search_id", s.ID, "query", s.Query, "pages", s.pages, "added", s.total.Added)
	return s.total, nil
}
