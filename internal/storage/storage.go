// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"lot_monitor/internal/model"
)

// ErrNotFound is returned when a lot or user state does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
//
// Every mutation of a user state also updates the state indexes in the same
// transaction, so a lot ID is present in at most one index and only in the one
// matching its current state.
type Storage interface {
	GetLot(ctx context.Context, id string) (*model.Lot, error)
	GetLots(ctx context.Context, ids []string) ([]model.Lot, error)
	GetAllLots(ctx context.Context) ([]model.Lot, error)
	GetAllLotIDs(ctx context.Context) ([]string, error)
	SaveLot(ctx context.Context, lot *model.Lot) error
	SaveLots(ctx context.Context, lots []model.Lot) error
	UpdateLot(ctx context.Context, id string, update func(*model.Lot)) error
	DeleteLot(ctx context.Context, id string) error

	SetUserState(ctx context.Context, lotID string, state model.ItemState) (*model.UserState, error)
	CreateUserState(ctx context.Context, lotID string) (bool, error)
	UpdateUserNotes(ctx context.Context, lotID, notes string, tags []string) error
	GetUserState(ctx context.Context, lotID string) (*model.UserState, error)
	UpdateIndexes(ctx context.Context, lotID string, state model.ItemState) error
	IndexIDs(ctx context.Context, state model.ItemState) ([]string, error)
	GetItems(ctx context.Context, state model.ItemState) ([]model.Item, error)

	GetFilters(ctx context.Context) (model.FilterSet, error)
	SaveFilters(ctx context.Context, f model.FilterSet) error
	GetPreferences(ctx context.Context) (model.Preferences, error)
	SavePreferences(ctx context.Context, p model.Preferences) error
	GetMetadata(ctx context.Context) (model.Metadata, error)
	UpdateCounts(ctx context.Context) (model.Metadata, error)

	CleanupOldItems(ctx context.Context, olderThanDays int) (int, error)
	ClearLots(ctx context.Context) error

	GetCachedCity(ctx context.Context, auctioneerID string, maxAge time.Duration) (string, error)
	CacheCity(ctx context.Context, auctioneerID, city string) error

	Close() error
}
