// Package model defines the domain types used across the application.
package model

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// DefaultAuctionHouse is the generic house name used when the real one is unknown.
const DefaultAuctionHouse = "Drouot"

// UnspecifiedCity is the sentinel city name that matches lots without a city.
const UnspecifiedCity = "Non spécifié"

// ErrMissingIdentity is returned for lots that carry no usable identity.
var ErrMissingIdentity = errors.New("lot has no identity")

// ItemState is the user triage state of a lot.
type ItemState string

// Supported item states.
const (
	StateNew      ItemState = "NEW"
	StateSeen     ItemState = "SEEN"
	StateFavorite ItemState = "FAVORITE"
	StateIgnored  ItemState = "IGNORED"
)

// States lists every item state in index order.
var States = []ItemState{StateNew, StateSeen, StateFavorite, StateIgnored}

// Valid reports whether s is one of the known states.
func (s ItemState) Valid() bool {
	switch s {
	case StateNew, StateSeen, StateFavorite, StateIgnored:
		return true
	}
	return false
}

// Lot is a single auction item observation.
type Lot struct {
	ID              string     `json:"id"`
	ExternalID      string     `json:"externalId"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Category        string     `json:"category"`
	EstimateMin     float64    `json:"estimateMin"`
	EstimateMax     float64    `json:"estimateMax"`
	CurrentBid      float64    `json:"currentBid"`
	Currency        string     `json:"currency"`
	AuctionDate     time.Time  `json:"auctionDate"`
	AuctionHouse    string     `json:"auctionHouse"`
	City            *string    `json:"city"`
	ImageURL        string     `json:"imageUrl"`
	URL             string     `json:"url"`
	SaleType        string     `json:"saleType"`
	ListOrder       *int       `json:"listOrder"`
	FirstSeenAt     time.Time  `json:"firstSeenAt"`
	LastSeenAt      time.Time  `json:"lastSeenAt"`
	DetailScrapedAt *time.Time `json:"detailScrapedAt"`
	MatchScore      int        `json:"matchScore"`
	MatchReason     []string   `json:"matchReason"`
}

// CityName returns the lot city or an empty string.
func (l *Lot) CityName() string {
	if l.City == nil {
		return ""
	}
	return *l.City
}

// EnsureID fills in a derived ID when the producer did not supply one.
func (l *Lot) EnsureID() error {
	if l.ID != "" {
		return nil
	}
	if l.ExternalID == "" && l.Title == "" {
		return ErrMissingIdentity
	}
	l.ID = DeriveLotID(l.ExternalID, l.AuctionHouse, l.Title)
	return nil
}

// DeriveLotID builds a stable lot ID from its external ID, house and title prefix.
func DeriveLotID(externalID, auctionHouse, title string) string {
	prefix := []rune(title)
	if len(prefix) > 20 {
		prefix = prefix[:20]
	}
	h := sha256.Sum256([]byte(externalID + "_" + auctionHouse + "_" + string(prefix)))
	return fmt.Sprintf("drouot_%x", h[:8])
}

// APILotID is the ID used for lots that come from the upstream search API.
func APILotID(externalID string) string {
	return "drouot_api_" + externalID
}

// AveragePrice returns the mean estimate, or 0 when no estimate is known.
func AveragePrice(estimateMin, estimateMax float64) float64 {
	if estimateMin == 0 && estimateMax == 0 {
		return 0
	}
	if estimateMin == estimateMax {
		return estimateMin
	}
	return (estimateMin + estimateMax) / 2
}

// UserState tracks the triage state of a lot.
type UserState struct {
	LotID           string     `json:"lotId"`
	State           ItemState  `json:"state"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastStateChange time.Time  `json:"lastStateChange"`
	ViewCount       int        `json:"viewCount"`
	ViewedAt        *time.Time `json:"viewedAt,omitempty"`
	FavoritedAt     *time.Time `json:"favoritedAt,omitempty"`
	IgnoredAt       *time.Time `json:"ignoredAt,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
}

// Item is a lot returned to readers, with its user state when it has one.
type Item struct {
	Lot
	State *UserState `json:"state,omitempty"`
}

// SortMode controls the order of filtered results.
type SortMode string

// Supported sort modes.
const (
	SortDefault     SortMode = "default"
	SortEstimateAsc SortMode = "estimate_asc"
)

// Default price bounds of a FilterSet.
const (
	DefaultPriceMin = 0
	DefaultPriceMax = 999999
)

// FilterSet is the user interest configuration.
type FilterSet struct {
	Enabled           bool      `json:"enabled" yaml:"enabled"`
	Categories        []string  `json:"categories" yaml:"categories"`
	ExcludeCategories []string  `json:"excludeCategories" yaml:"exclude_categories"`
	IncludeKeywords   []string  `json:"includeKeywords" yaml:"include_keywords"`
	ExcludeKeywords   []string  `json:"excludeKeywords" yaml:"exclude_keywords"`
	Cities            []string  `json:"cities" yaml:"cities"`
	AuctionHouses     []string  `json:"auctionHouses" yaml:"auction_houses"`
	PriceMin          float64   `json:"priceMin" yaml:"price_min"`
	PriceMax          float64   `json:"priceMax" yaml:"price_max"`
	DateFrom          time.Time `json:"dateFrom" yaml:"date_from"`
	DateTo            time.Time `json:"dateTo" yaml:"date_to"`
	OnlyWithImages    bool      `json:"onlyWithImages" yaml:"only_with_images"`
	SortMode          SortMode  `json:"sortMode" yaml:"sort_mode"`
	LastUpdated       time.Time `json:"lastUpdated" yaml:"-"`
}

// DefaultFilterSet returns the filters used before the user configures any.
func DefaultFilterSet(now time.Time) FilterSet {
	return FilterSet{
		Enabled:  true,
		PriceMin: DefaultPriceMin,
		PriceMax: DefaultPriceMax,
		DateFrom: now,
		DateTo:   now.AddDate(0, 0, 365),
		SortMode: SortDefault,
	}
}

// Preferences holds user settings that survive a data clear.
type Preferences struct {
	NotificationsEnabled bool      `json:"notificationsEnabled"`
	NotifyOnNewMatch     bool      `json:"notifyOnNewMatch"`
	NotifyOnHighScore    bool      `json:"notifyOnHighScore"`
	HighScoreThreshold   int       `json:"highScoreThreshold"`
	ItemsPerPage         int       `json:"itemsPerPage"`
	AutoCleanupDays      int       `json:"autoCleanupDays"`
	MaxStoredItems       int       `json:"maxStoredItems"`
	InstalledAt          time.Time `json:"installedAt"`
}

// DefaultPreferences returns the preferences of a fresh install.
func DefaultPreferences(now time.Time) Preferences {
	return Preferences{
		NotificationsEnabled: true,
		NotifyOnNewMatch:     true,
		NotifyOnHighScore:    true,
		HighScoreThreshold:   80,
		ItemsPerPage:         20,
		AutoCleanupDays:      90,
		MaxStoredItems:       10000,
		InstalledAt:          now,
	}
}

// Metadata holds counters derived from lots and indexes.
type Metadata struct {
	TotalLots     int        `json:"totalLots"`
	NewCount      int        `json:"newCount"`
	SeenCount     int        `json:"seenCount"`
	FavoriteCount int        `json:"favoriteCount"`
	IgnoredCount  int        `json:"ignoredCount"`
	LastSync      time.Time  `json:"lastSync"`
	LastCleanup   *time.Time `json:"lastCleanup,omitempty"`
}
