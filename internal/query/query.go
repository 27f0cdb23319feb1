// Package query serves the triage views over the stored lots.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"lot_monitor/internal/filter"
	"lot_monitor/internal/model"
	"lot_monitor/internal/storage"
)

// View names a triage list.
type View string

// Supported views.
const (
	ViewNew      View = "new"
	ViewSeen     View = "seen"
	ViewFavorite View = "favorite"
	ViewAll      View = "all"
)

// ErrUnknownView is returned for a view name outside the supported set.
var ErrUnknownView = errors.New("unknown view")

// ParseView converts a request parameter into a View. An empty name means new.
func ParseView(name string) (View, error) {
	switch v := View(name); v {
	case "":
		return ViewNew, nil
	case ViewNew, ViewSeen, ViewFavorite, ViewAll:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownView, name)
}

// Service reads items for display.
type Service struct {
	store storage.Storage
}

// New creates a query Service.
func New(store storage.Storage) *Service {
	return &Service{store: store}
}

// Items returns the items of a view in index order. The new and all views
// drop lots that no longer match the active filters; triaged views are never
// re-filtered. The all view lists every stored lot in list order, falling
// back to discovery time.
func (s *Service) Items(ctx context.Context, view View) ([]model.Item, error) {
	var (
		items []model.Item
		err   error
	)
	switch view {
	case ViewNew:
		items, err = s.store.GetItems(ctx, model.StateNew)
	case ViewSeen:
		items, err = s.store.GetItems(ctx, model.StateSeen)
	case ViewFavorite:
		items, err = s.store.GetItems(ctx, model.StateFavorite)
	case ViewAll:
		items, err = s.allItems(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, view)
	}
	if err != nil {
		return nil, err
	}

	if view == ViewNew || view == ViewAll {
		f, err := s.store.GetFilters(ctx)
		if err != nil {
			return nil, fmt.Errorf("load filters: %w", err)
		}
		if f.Enabled && !filter.IsEmpty(f) {
			items = refilter(items, f)
		}
	}

	if view == ViewAll {
		sortByListOrder(items)
	}
	return items, nil
}

func (s *Service) allItems(ctx context.Context) ([]model.Item, error) {
	lots, err := s.store.GetAllLots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load lots: %w", err)
	}
	items := make([]model.Item, 0, len(lots))
	for _, lot := range lots {
		item := model.Item{Lot: lot}
		us, err := s.store.GetUserState(ctx, lot.ID)
		switch {
		case err == nil:
			item.State = us
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("load state of %s: %w", lot.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func refilter(items []model.Item, f model.FilterSet) []model.Item {
	out := items[:0]
	for _, it := range items {
		if filter.Match(it.Lot, f) {
			out = append(out, it)
		}
	}
	return out
}

func sortByListOrder(items []model.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].ListOrder, items[j].ListOrder
		switch {
		case a != nil && b != nil:
			if *a != *b {
				return *a < *b
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return items[i].FirstSeenAt.Before(items[j].FirstSeenAt)
	})
}
