// Package fetcher turns upstream lot sources into model.Lot values: RSS lot
// feeds and the search API payload.
package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"lot_monitor/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses lot feeds.
type Fetcher struct {
	client HTTPClient
	policy *bluemonday.Policy
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	policy := bluemonday.StrictPolicy()
	policy.AddSpaceWhenStrippingTag(true)
	return &Fetcher{
		client: client,
		policy: policy,
	}
}

// Fetch downloads and parses an RSS feed from the given URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "LotMonitor/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ItemGUID returns the GUID for an RSS item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// FeedLots converts feed items into lots. Items without a title are dropped.
// Estimates and the sale date are read from the description text; the item
// author names the auction house.
func (f *Fetcher) FeedLots(feed *gofeed.Feed, now time.Time) []model.Lot {
	var lots []model.Lot
	for _, item := range feed.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		desc := f.PlainText(item.Description)
		if desc == "" {
			desc = f.PlainText(item.Content)
		}

		lot := model.Lot{
			ExternalID:   ItemGUID(item),
			Title:        title,
			Description:  desc,
			Category:     itemCategory(item),
			Currency:     "EUR",
			AuctionHouse: itemHouse(item),
			ImageURL:     itemImage(item),
			URL:          item.Link,
			SaleType:     "LIVE",
			FirstSeenAt:  now,
			LastSeenAt:   now,
		}
		lot.EstimateMin, lot.EstimateMax = ParseEstimate(desc)

		if at, ok := ParseSaleDate(desc); ok {
			lot.AuctionDate = at
		} else if item.PublishedParsed != nil {
			lot.AuctionDate = item.PublishedParsed.UTC()
		} else {
			lot.AuctionDate = now
		}
		lot.ID = model.DeriveLotID(lot.ExternalID, lot.AuctionHouse, lot.Title)
		lots = append(lots, lot)
	}
	return lots
}

// PlainText strips markup from an HTML fragment and collapses whitespace.
func (f *Fetcher) PlainText(s string) string {
	text := html.UnescapeString(f.policy.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}

func itemCategory(item *gofeed.Item) string {
	if len(item.Categories) == 0 {
		return ""
	}
	return strings.TrimSpace(item.Categories[0])
}

func itemHouse(item *gofeed.Item) string {
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	for _, a := range item.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	return model.DefaultAuctionHouse
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
