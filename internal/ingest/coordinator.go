// Package ingest merges incoming lots into the store and keeps the derived
// state consistent.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lot_monitor/internal/filter"
	"lot_monitor/internal/metrics"
	"lot_monitor/internal/model"
	"lot_monitor/internal/storage"
)

// DefaultChunkSize is the number of lots committed per storage batch.
const DefaultChunkSize = 50

// Notifier delivers high-score alerts for freshly added lots.
type Notifier interface {
	NotifyHighScore(ctx context.Context, lot model.Lot) error
}

// Options qualify a batch of incoming lots.
type Options struct {
	// Enriched marks lots carrying detail-page data; only lots with
	// DetailScrapedAt set are merged as enrichments.
	Enriched bool
	// SkipFilters adds unknown lots without evaluating the filters.
	SkipFilters bool
}

// Result counts what an ingestion committed.
type Result struct {
	Added    int `json:"added"`
	Updated  int `json:"updated"`
	Enriched int `json:"enriched"`
	Skipped  int `json:"skipped"`
}

func (r *Result) add(o Result) {
	r.Added += o.Added
	r.Updated += o.Updated
	r.Enriched += o.Enriched
	r.Skipped += o.Skipped
}

// Coordinator is the single writer that applies filter decisions to the store.
type Coordinator struct {
	store     storage.Storage
	notifier  Notifier
	log       *slog.Logger
	now       func() time.Time
	chunkSize int

	// refreshers are called with fresh counters after every mutation batch.
	refreshers []func(model.Metadata)

	// writeMu serialises read-modify-write sequences over lots and states.
	writeMu sync.Mutex

	searchMu sync.Mutex
	active   *Search
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// New creates a Coordinator. notifier may be nil.
func New(store storage.Storage, notifier Notifier, log *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetNotifier replaces the high-score notifier. It must be called before the
// coordinator starts ingesting.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.notifier = n
}

// OnRefresh registers a callback invoked with the recomputed counters.
func (c *Coordinator) OnRefresh(fn func(model.Metadata)) {
	c.refreshers = append(c.refreshers, fn)
}

// Ingest merges a batch of lots into the store. Lots are committed in chunks;
// on a storage failure the returned Result counts what was committed before
// the failure.
func (c *Coordinator) Ingest(ctx context.Context, lots []model.Lot, opts Options) (Result, error) {
	return c.ingest(ctx, lots, opts, nil)
}

func (c *Coordinator) ingest(ctx context.Context, lots []model.Lot, opts Options, current func() bool) (Result, error) {
	kind := "new"
	if opts.Enriched {
		kind = "enriched"
	}
	c.log.Debug("processing lots", "count", len(lots), "kind", kind, "skip_filters", opts.SkipFilters)

	filters, err := c.store.GetFilters(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load filters: %w", err)
	}
	prefs, err := c.store.GetPreferences(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load preferences: %w", err)
	}

	var total Result
	var ingestErr error
	for start := 0; start < len(lots); start += c.chunkSize {
		if current != nil && !current() {
			ingestErr = ErrSuperseded
			break
		}
		if err := ctx.Err(); err != nil {
			ingestErr = err
			break
		}
		end := min(start+c.chunkSize, len(lots))
		c.writeMu.Lock()
		res, added, err := c.processChunk(ctx, lots[start:end], filters, opts)
		c.writeMu.Unlock()
		total.add(res)
		c.notifyHighScores(ctx, added, prefs, opts)
		if err != nil {
			ingestErr = err
			break
		}
	}

	recordIngest(total)
	if err := c.refresh(ctx); err != nil && ingestErr == nil {
		ingestErr = err
	}

	if total.Enriched > 0 {
		c.log.Info("enriched lots with detail data", "count", total.Enriched)
	}
	c.log.Info("ingested lots",
		"added", total.Added,
		"updated", total.Updated,
		"enriched", total.Enriched,
		"skipped", total.Skipped,
	)
	return total, ingestErr
}

// processChunk decides new, enrich or re-sighting for each lot of the chunk
// and commits the chunk. It returns the lots that were added.
func (c *Coordinator) processChunk(ctx context.Context, chunk []model.Lot, filters model.FilterSet, opts Options) (Result, []model.Lot, error) {
	now := c.now()

	var res Result
	var toSave []model.Lot
	pending := make(map[string]int)
	isNew := make(map[string]bool)
	var resighted []string

	for _, lot := range chunk {
		if err := lot.EnsureID(); err != nil {
			c.log.Warn("skipping malformed lot", "title", lot.Title, "error", err)
			res.Skipped++
			continue
		}
		enriched := opts.Enriched && lot.DetailScrapedAt != nil

		if pos, ok := pending[lot.ID]; ok {
			if enriched {
				toSave[pos] = mergeEnriched(toSave[pos], lot, now)
			} else {
				toSave[pos].LastSeenAt = now
			}
			continue
		}

		existing, err := c.store.GetLot(ctx, lot.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if !opts.SkipFilters && !filter.Match(lot, filters) {
				continue
			}
			if lot.FirstSeenAt.IsZero() {
				lot.FirstSeenAt = now
			}
			if lot.LastSeenAt.IsZero() {
				lot.LastSeenAt = now
			}
			lot.MatchScore = filter.Score(lot, filters, now)
			lot.MatchReason = filter.Reasons(lot, filters)
			pending[lot.ID] = len(toSave)
			isNew[lot.ID] = true
			toSave = append(toSave, lot)
		case err != nil:
			return Result{}, nil, fmt.Errorf("lookup lot %s: %w", lot.ID, err)
		case enriched:
			merged := mergeEnriched(*existing, lot, now)
			pending[lot.ID] = len(toSave)
			toSave = append(toSave, merged)
		default:
			resighted = append(resighted, lot.ID)
		}
	}

	// Enriched records are rescored once all merges of the chunk are applied.
	for i := range toSave {
		if !isNew[toSave[i].ID] {
			toSave[i].MatchScore = filter.Score(toSave[i], filters, now)
			toSave[i].MatchReason = filter.Reasons(toSave[i], filters)
		}
	}

	if err := c.store.SaveLots(ctx, toSave); err != nil {
		return Result{}, nil, fmt.Errorf("save lots: %w", err)
	}

	var added []model.Lot
	for _, lot := range toSave {
		if !isNew[lot.ID] {
			res.Enriched++
			continue
		}
		created, err := c.store.CreateUserState(ctx, lot.ID)
		if err != nil {
			return res, added, fmt.Errorf("set state of %s: %w", lot.ID, err)
		}
		if !created {
			res.Updated++
			continue
		}
		res.Added++
		added = append(added, lot)
		c.log.Debug("new matching lot", "lot_id", lot.ID, "title", lot.Title, "score", lot.MatchScore)
	}

	for _, id := range resighted {
		if err := c.store.UpdateLot(ctx, id, func(l *model.Lot) { l.LastSeenAt = now }); err != nil {
			return res, added, fmt.Errorf("touch lot %s: %w", id, err)
		}
		res.Updated++
	}

	return res, added, nil
}

// mergeEnriched folds a detail-page record onto the stored lot. Richer data
// replaces what is stored but empty or generic values never overwrite
// specific ones.
func mergeEnriched(existing, incoming model.Lot, now time.Time) model.Lot {
	merged := incoming
	merged.ID = existing.ID
	merged.FirstSeenAt = existing.FirstSeenAt
	merged.LastSeenAt = now

	if incoming.AuctionHouse == "" || incoming.AuctionHouse == model.DefaultAuctionHouse {
		merged.AuctionHouse = existing.AuctionHouse
	}
	if incoming.Description == "" {
		merged.Description = existing.Description
	}
	if incoming.Category == "" {
		merged.Category = existing.Category
	}
	if incoming.EstimateMin <= 0 {
		merged.EstimateMin = existing.EstimateMin
	}
	if incoming.EstimateMax <= 0 {
		merged.EstimateMax = existing.EstimateMax
	}
	if incoming.Title == "" {
		merged.Title = existing.Title
	}
	if incoming.ExternalID == "" {
		merged.ExternalID = existing.ExternalID
	}
	if incoming.Currency == "" {
		merged.Currency = existing.Currency
	}
	if incoming.SaleType == "" {
		merged.SaleType = existing.SaleType
	}
	if incoming.City == nil {
		merged.City = existing.City
	}
	if incoming.ImageURL == "" {
		merged.ImageURL = existing.ImageURL
	}
	if incoming.URL == "" {
		merged.URL = existing.URL
	}
	if incoming.ListOrder == nil {
		merged.ListOrder = existing.ListOrder
	}
	if incoming.AuctionDate.IsZero() {
		merged.AuctionDate = existing.AuctionDate
	}
	return merged
}

func (c *Coordinator) notifyHighScores(ctx context.Context, added []model.Lot, prefs model.Preferences, opts Options) {
	if c.notifier == nil || opts.SkipFilters {
		return
	}
	if !prefs.NotificationsEnabled || !prefs.NotifyOnHighScore {
		return
	}
	for _, lot := range added {
		if lot.MatchScore < prefs.HighScoreThreshold {
			continue
		}
		if err := c.notifier.NotifyHighScore(ctx, lot); err != nil {
			c.log.Warn("send high score notification", "lot_id", lot.ID, "error", err)
			continue
		}
		metrics.HighScoreNotificationsTotal.Inc()
	}
}

// ReEvaluateAll rescores every stored lot against the current filters and
// gives newly matching lots without a state the NEW state. Lots that stop
// matching keep their state.
func (c *Coordinator) ReEvaluateAll(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.reEvaluate(ctx)
}

func (c *Coordinator) reEvaluate(ctx context.Context) error {
	c.log.Info("re-evaluating all lots")

	lots, err := c.store.GetAllLots(ctx)
	if err != nil {
		return fmt.Errorf("load lots: %w", err)
	}
	filters, err := c.store.GetFilters(ctx)
	if err != nil {
		return fmt.Errorf("load filters: %w", err)
	}

	now := c.now()
	matched := 0
	for _, lot := range lots {
		if !filter.Match(lot, filters) {
			continue
		}
		matched++
		score := filter.Score(lot, filters, now)
		reasons := filter.Reasons(lot, filters)
		if err := c.store.UpdateLot(ctx, lot.ID, func(l *model.Lot) {
			l.MatchScore = score
			l.MatchReason = reasons
		}); err != nil {
			return fmt.Errorf("rescore lot %s: %w", lot.ID, err)
		}

		if _, err := c.store.CreateUserState(ctx, lot.ID); err != nil {
			return fmt.Errorf("set state of %s: %w", lot.ID, err)
		}
	}

	metrics.ReEvaluationsTotal.Inc()
	c.log.Info("re-evaluation complete", "lots", len(lots), "matched", matched)
	return c.refresh(ctx)
}

// UpdateFilters stores a new filter set and re-evaluates every lot before
// returning.
func (c *Coordinator) UpdateFilters(ctx context.Context, f model.FilterSet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	f.LastUpdated = c.now()
	if err := c.store.SaveFilters(ctx, f); err != nil {
		return fmt.Errorf("save filters: %w", err)
	}
	return c.reEvaluate(ctx)
}

// UpdateState transitions the user state of a lot and refreshes the counters.
func (c *Coordinator) UpdateState(ctx context.Context, lotID string, state model.ItemState) (*model.UserState, error) {
	c.log.Debug("updating state", "lot_id", lotID, "state", state)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.store.GetLot(ctx, lotID); err != nil {
		return nil, fmt.Errorf("get lot: %w", err)
	}
	us, err := c.store.SetUserState(ctx, lotID, state)
	if err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}
	return us, c.refresh(ctx)
}

// NewCount returns the number of lots in the NEW state.
func (c *Coordinator) NewCount(ctx context.Context) (int, error) {
	m, err := c.store.GetMetadata(ctx)
	if err != nil {
		return 0, err
	}
	return m.NewCount, nil
}

// UpdateNotes patches the notes and tags of a lot's user state. Lots without
// a state are left alone.
func (c *Coordinator) UpdateNotes(ctx context.Context, lotID, notes string, tags []string) error {
	if err := c.store.UpdateUserNotes(ctx, lotID, notes, tags); err != nil {
		return fmt.Errorf("update notes: %w", err)
	}
	return nil
}

// Filters returns the current filter set.
func (c *Coordinator) Filters(ctx context.Context) (model.FilterSet, error) {
	return c.store.GetFilters(ctx)
}

// Preferences returns the current preferences.
func (c *Coordinator) Preferences(ctx context.Context) (model.Preferences, error) {
	return c.store.GetPreferences(ctx)
}

// UpdatePreferences stores p. Preferences never change lot state.
func (c *Coordinator) UpdatePreferences(ctx context.Context, p model.Preferences) error {
	if p.HighScoreThreshold < 0 || p.HighScoreThreshold > 100 {
		return fmt.Errorf("high score threshold %d out of range", p.HighScoreThreshold)
	}
	if err := c.store.SavePreferences(ctx, p); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Metadata returns the stored counters.
func (c *Coordinator) Metadata(ctx context.Context) (model.Metadata, error) {
	return c.store.GetMetadata(ctx)
}

// ClearData removes every lot and state, keeping filters and preferences.
func (c *Coordinator) ClearData(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.ClearLots(ctx); err != nil {
		return fmt.Errorf("clear lots: %w", err)
	}
	return c.refresh(ctx)
}

// Cleanup removes stale lots according to the auto cleanup preference.
func (c *Coordinator) Cleanup(ctx context.Context) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	prefs, err := c.store.GetPreferences(ctx)
	if err != nil {
		return 0, fmt.Errorf("load preferences: %w", err)
	}
	deleted, err := c.store.CleanupOldItems(ctx, prefs.AutoCleanupDays)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	metrics.CleanupDeletedTotal.Add(float64(deleted))
	c.log.Info("cleaned up old items", "deleted", deleted, "older_than_days", prefs.AutoCleanupDays)
	return deleted, c.refresh(ctx)
}

func (c *Coordinator) refresh(ctx context.Context) error {
	m, err := c.store.UpdateCounts(ctx)
	if err != nil {
		return fmt.Errorf("update counts: %w", err)
	}
	metrics.RecordCounts(m)
	for _, fn := range c.refreshers {
		fn(m)
	}
	return nil
}

func recordIngest(r Result) {
	metrics.LotsIngestedTotal.WithLabelValues("added").Add(float64(r.Added))
	metrics.LotsIngestedTotal.WithLabelValues("updated").Add(float64(r.Updated))
	metrics.LotsIngestedTotal.WithLabelValues("enriched").Add(float64(r.Enriched))
	metrics.LotsIngestedTotal.WithLabelValues("skipped").Add(float64(r.Skipped))
}
