// Package resolver looks up the city of an auction house from its public
// auctioneer page. Lookups are cached and best-effort: a failure only means
// the city is unknown.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"lot_monitor/internal/metrics"
	"lot_monitor/internal/storage"
)

const (
	// CacheTTL is how long a resolved city stays valid.
	CacheTTL = 7 * 24 * time.Hour
	// DefaultBaseURL is the site hosting auctioneer pages.
	DefaultBaseURL = "https://www.drouot.com"

	maxConcurrentLookups = 3
	memoryCacheSize      = 512
	maxPageSize          = 4 << 20
)

// CityStore is the persistent city cache.
type CityStore interface {
	GetCachedCity(ctx context.Context, auctioneerID string, maxAge time.Duration) (string, error)
	CacheCity(ctx context.Context, auctioneerID, city string) error
}

// House identifies an auction house.
type House struct {
	ID   string
	Name string
}

// Resolver resolves auction house cities through a memory cache, an optional
// Redis cache, the persistent store and finally the auctioneer page.
type Resolver struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	memory  *expirable.LRU[string, string]
	shared  *RedisCache
	store   CityStore
	log     *slog.Logger
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithBaseURL points page lookups at another host.
func WithBaseURL(u string) Option {
	return func(r *Resolver) { r.baseURL = u }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithRateLimit sets the page fetch rate.
func WithRateLimit(every time.Duration, burst int) Option {
	return func(r *Resolver) { r.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

// WithRedis adds a shared cache layer.
func WithRedis(c *RedisCache) Option {
	return func(r *Resolver) { r.shared = c }
}

// New creates a Resolver backed by store.
func New(store CityStore, log *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: DefaultBaseURL,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		memory:  expirable.NewLRU[string, string](memoryCacheSize, nil, CacheTTL),
		store:   store,
		log:     log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PageURL returns the auctioneer page address for a house.
func (r *Resolver) PageURL(h House) string {
	return fmt.Sprintf("%s/fr/auctioneer/%s/%s?tab=sales", r.baseURL, h.ID, Slug(h.Name))
}

// City returns the city of a house, or an empty string when it cannot be
// determined.
func (r *Resolver) City(ctx context.Context, h House) string {
	if h.ID == "" {
		return ""
	}

	if city, ok := r.memory.Get(h.ID); ok {
		metrics.CityLookupsTotal.WithLabelValues("memory").Inc()
		return city
	}

	if r.shared != nil {
		city, ok, err := r.shared.GetCity(ctx, h.ID)
		if err != nil {
			r.log.Warn("redis city lookup failed", "auctioneer_id", h.ID, "error", err)
		} else if ok {
			metrics.CityLookupsTotal.WithLabelValues("cache").Inc()
			r.memory.Add(h.ID, city)
			return city
		}
	}

	city, err := r.store.GetCachedCity(ctx, h.ID, CacheTTL)
	switch {
	case err == nil:
		metrics.CityLookupsTotal.WithLabelValues("cache").Inc()
		r.remember(ctx, h.ID, city, false)
		return city
	case !errors.Is(err, storage.ErrNotFound):
		r.log.Warn("cached city lookup failed", "auctioneer_id", h.ID, "error", err)
	}

	city, err = r.fetch(ctx, h)
	if err != nil {
		if errors.Is(err, ErrNoCity) {
			metrics.CityLookupsTotal.WithLabelValues("missing").Inc()
			r.log.Debug("no city on auctioneer page", "auctioneer_id", h.ID, "house", h.Name)
		} else {
			metrics.CityLookupsTotal.WithLabelValues("error").Inc()
			r.log.Warn("fetch auctioneer page", "auctioneer_id", h.ID, "house", h.Name, "error", err)
		}
		return ""
	}

	metrics.CityLookupsTotal.WithLabelValues("fetched").Inc()
	r.log.Debug("resolved city", "auctioneer_id", h.ID, "city", city)
	r.remember(ctx, h.ID, city, true)
	return city
}

func (r *Resolver) remember(ctx context.Context, id, city string, persist bool) {
	r.memory.Add(id, city)
	if r.shared != nil {
		if err := r.shared.SetCity(ctx, id, city, CacheTTL); err != nil {
			r.log.Warn("redis city store failed", "auctioneer_id", id, "error", err)
		}
	}
	if persist {
		if err := r.store.CacheCity(ctx, id, city); err != nil {
			r.log.Warn("cache city", "auctioneer_id", id, "error", err)
		}
	}
}

func (r *Resolver) fetch(ctx context.Context, h House) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.PageURL(h), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	return ExtractCity(page)
}

// Batch resolves the cities of several houses with at most three lookups in
// flight. Houses whose city is unknown are absent from the result.
func (r *Resolver) Batch(ctx context.Context, houses []House) map[string]string {
	r.log.Debug("batch resolving cities", "houses", len(houses))

	var mu sync.Mutex
	cities := make(map[string]string, len(houses))
	seen := make(map[string]bool, len(houses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for _, h := range houses {
		if h.ID == "" || seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		g.Go(func() error {
			if city := r.City(gctx, h); city != "" {
				mu.Lock()
				cities[h.ID] = city
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.log.Debug("batch city resolution complete", "resolved", len(cities))
	return cities
}
