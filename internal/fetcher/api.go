package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lot_monitor/internal/model"
	"lot_monitor/internal/resolver"
)

// ErrInvalidPayload is returned when a search payload has no lots array.
var ErrInvalidPayload = errors.New("invalid search payload")

const imageCDN = "https://cdn.drouot.com/d/image/lot?size=ftall&path="

// CityResolver resolves the cities of several auction houses at once.
type CityResolver interface {
	Batch(ctx context.Context, houses []resolver.House) map[string]string
}

// APIResponse is the upstream search payload.
type APIResponse struct {
	Lots       *[]APILot `json:"lots"`
	NumFound   int       `json:"numFound"`
	Breakdowns struct {
		Auctioneer map[string]struct {
			Name string `json:"name"`
			Hits int    `json:"hits"`
		} `json:"auctioneer"`
	} `json:"breakdowns"`
}

// APILot is one lot of the search payload.
type APILot struct {
	ID           json.Number `json:"id"`
	Slug         string      `json:"slug"`
	Description  string      `json:"description"`
	AuctioneerID json.Number `json:"auctioneerId"`
	LowEstim     float64     `json:"lowEstim"`
	HighEstim    float64     `json:"highEstim"`
	CurrentBid   float64     `json:"currentBid"`
	CurrencyID   string      `json:"currencyId"`
	Date         int64       `json:"date"`
	SaleType     string      `json:"saleType"`
	Photo        *struct {
		Path string `json:"path"`
	} `json:"photo"`
	Attributes struct {
		Category string `json:"category"`
	} `json:"attributes"`
}

// ParseAPIResponse converts a search payload into enriched lots. Cities of
// the auction houses are resolved through cities, which may be nil.
func ParseAPIResponse(ctx context.Context, data []byte, cities CityResolver, now time.Time) ([]model.Lot, error) {
	var resp APIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if resp.Lots == nil {
		return nil, ErrInvalidPayload
	}

	houseNames := make(map[string]string, len(resp.Breakdowns.Auctioneer))
	for id, a := range resp.Breakdowns.Auctioneer {
		houseNames[id] = a.Name
	}

	var houses []resolver.House
	seen := make(map[string]bool)
	for _, al := range *resp.Lots {
		id := al.AuctioneerID.String()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		houses = append(houses, resolver.House{ID: id, Name: houseName(houseNames, id)})
	}

	var cityByHouse map[string]string
	if cities != nil && len(houses) > 0 {
		cityByHouse = cities.Batch(ctx, houses)
	}

	lots := make([]model.Lot, 0, len(*resp.Lots))
	for _, al := range *resp.Lots {
		if al.ID.String() == "" {
			continue
		}
		lots = append(lots, transformAPILot(al, houseNames, cityByHouse, now))
	}
	return lots, nil
}

func houseName(names map[string]string, id string) string {
	if name := names[id]; name != "" {
		return name
	}
	return model.DefaultAuctionHouse
}

func transformAPILot(al APILot, names, cities map[string]string, now time.Time) model.Lot {
	ext := al.ID.String()
	houseID := al.AuctioneerID.String()

	lot := model.Lot{
		ID:              model.APILotID(ext),
		ExternalID:      ext,
		Title:           apiTitle(al.Description),
		Description:     al.Description,
		Category:        al.Attributes.Category,
		EstimateMin:     al.LowEstim,
		EstimateMax:     al.HighEstim,
		CurrentBid:      al.CurrentBid,
		Currency:        orDefault(al.CurrencyID, "EUR"),
		AuctionHouse:    houseName(names, houseID),
		URL:             "https://www.drouot.com/fr/l/" + ext + "-" + al.Slug,
		SaleType:        orDefault(al.SaleType, "LIVE"),
		FirstSeenAt:     now,
		LastSeenAt:      now,
		DetailScrapedAt: &now,
	}
	if al.Photo != nil && al.Photo.Path != "" {
		lot.ImageURL = imageCDN + al.Photo.Path
	}
	if al.Date > 0 {
		lot.AuctionDate = time.Unix(al.Date, 0).UTC()
	} else {
		lot.AuctionDate = now
	}
	if city, ok := cities[houseID]; ok && city != "" {
		lot.City = &city
	}
	return lot
}

// apiTitle is the first line of the description, shortened to 100 runes.
func apiTitle(description string) string {
	if strings.TrimSpace(description) == "" {
		return "Sans titre"
	}
	first, _, _ := strings.Cut(description, "\n")
	runes := []rune(first)
	if len(runes) > 100 {
		return string(runes[:97]) + "..."
	}
	return first
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
