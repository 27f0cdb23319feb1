// Package scheduler runs the periodic jobs: polling lot feeds and cleaning
// up stale lots.
package scheduler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"lot_monitor/internal/fetcher"
	"lot_monitor/internal/ingest"
	"lot_monitor/internal/model"
)

// Ingester is the part of the coordinator the scheduler drives.
type Ingester interface {
	Ingest(ctx context.Context, lots []model.Lot, opts ingest.Options) (ingest.Result, error)
	Cleanup(ctx context.Context) (int, error)
}

// Scheduler periodically polls feeds and runs the cleanup.
type Scheduler struct {
	ingester Ingester
	fetcher  *fetcher.Fetcher
	feeds    []string
	log      *slog.Logger
	now      func() time.Time

	pollEvery    time.Duration
	cleanupEvery time.Duration
}

// New creates a Scheduler with the default HTTP client.
func New(ingester Ingester, feeds []string, log *slog.Logger) *Scheduler {
	return NewWithFetcher(ingester, fetcher.New(http.DefaultClient), feeds, log)
}

// NewWithFetcher creates a Scheduler with a custom fetcher (useful for testing).
func NewWithFetcher(ingester Ingester, f *fetcher.Fetcher, feeds []string, log *slog.Logger) *Scheduler {
	return &Scheduler{
		ingester:     ingester,
		fetcher:      f,
		feeds:        feeds,
		log:          log,
		now:          time.Now,
		pollEvery:    15 * time.Minute,
		cleanupEvery: 24 * time.Hour,
	}
}

// SetIntervals overrides the default poll and cleanup intervals.
func (s *Scheduler) SetIntervals(poll, cleanup time.Duration) {
	if poll > 0 {
		s.pollEvery = poll
	}
	if cleanup > 0 {
		s.cleanupEvery = cleanup
	}
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.cleanup(ctx)
	s.pollAll(ctx)

	poll := time.NewTicker(s.pollEvery)
	defer poll.Stop()
	cleanup := time.NewTicker(s.cleanupEvery)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			s.pollAll(ctx)
		case <-cleanup.C:
			s.cleanup(ctx)
		}
	}
}

func (s *Scheduler) pollAll(ctx context.Context) {
	for _, url := range s.feeds {
		if ctx.Err() != nil {
			return
		}
		s.processFeed(ctx, url)
	}
}

func (s *Scheduler) processFeed(ctx context.Context, url string) {
	s.log.Debug("checking feed", "url", url)

	feed, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		s.log.Error("fetch feed", "url", url, "error", err)
		return
	}

	lots := s.fetcher.FeedLots(feed, s.now().UTC())
	if len(lots) == 0 {
		return
	}

	res, err := s.ingester.Ingest(ctx, lots, ingest.Options{})
	if err != nil {
		s.log.Error("ingest feed lots", "url", url, "error", err)
		return
	}
	if res.Added > 0 {
		s.log.Info("new lots from feed", "url", url, "title", feed.Title, "added", res.Added)
	}
}

func (s *Scheduler) cleanup(ctx context.Context) {
	deleted, err := s.ingester.Cleanup(ctx)
	if err != nil {
		s.log.Error("cleanup", "error", err)
		return
	}
	if deleted > 0 {
		s.log.Info("removed stale lots", "count", deleted)
	}
}
