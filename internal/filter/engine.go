// Package filter implements the lot matching and scoring engine.
package filter

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"lot_monitor/internal/model"
)

const day = 24 * time.Hour

// Match checks whether a lot passes the given filter set.
// A disabled filter set passes everything.
// Include keywords use OR logic (at least one must match).
// Exclude keywords and categories reject on any match.
func Match(lot model.Lot, f model.FilterSet) bool {
	if !f.Enabled {
		return true
	}

	if len(f.Categories) > 0 && !slices.Contains(f.Categories, lot.Category) {
		return false
	}
	if len(f.ExcludeCategories) > 0 && slices.Contains(f.ExcludeCategories, lot.Category) {
		return false
	}

	text := searchText(lot)
	if len(f.IncludeKeywords) > 0 && len(matchedKeywords(text, f.IncludeKeywords)) == 0 {
		return false
	}
	if len(f.ExcludeKeywords) > 0 && len(matchedKeywords(text, f.ExcludeKeywords)) > 0 {
		return false
	}

	if avg := model.AveragePrice(lot.EstimateMin, lot.EstimateMax); avg > 0 {
		if avg < f.PriceMin || avg > f.PriceMax {
			return false
		}
	}

	if lot.AuctionDate.Before(f.DateFrom) || lot.AuctionDate.After(f.DateTo) {
		return false
	}

	if len(f.AuctionHouses) > 0 && !slices.Contains(f.AuctionHouses, lot.AuctionHouse) {
		return false
	}
	if len(f.Cities) > 0 && !cityMatches(lot, f.Cities) {
		return false
	}

	if f.OnlyWithImages && lot.ImageURL == "" {
		return false
	}
	return true
}

// Score rates how well a lot fits the filter set, from 0 to 100.
func Score(lot model.Lot, f model.FilterSet, now time.Time) int {
	score := 10.0

	if len(f.Categories) > 0 && slices.Contains(f.Categories, lot.Category) {
		score += 15
	}

	if len(f.IncludeKeywords) > 0 {
		score += 10 * float64(len(matchedKeywords(searchText(lot), f.IncludeKeywords)))
		score += 5 * float64(len(matchedKeywords(strings.ToLower(lot.Title), f.IncludeKeywords)))
	}

	avg := model.AveragePrice(lot.EstimateMin, lot.EstimateMax)
	if avg > 0 && f.PriceMin < f.PriceMax {
		target := (f.PriceMin + f.PriceMax) / 2
		deviation := math.Abs(avg-target) / (f.PriceMax - f.PriceMin)
		score += math.Max(0, math.Round(15*(1-deviation)))
	}

	sinceFound := now.Sub(lot.FirstSeenAt)
	switch {
	case sinceFound < day:
		score += 10
	case sinceFound < 3*day:
		score += 5
	case sinceFound < 7*day:
		score += 2
	}

	untilAuction := lot.AuctionDate.Sub(now)
	switch {
	case untilAuction < 3*day:
		score += 15
	case untilAuction < 7*day:
		score += 10
	case untilAuction < 14*day:
		score += 5
	}

	if lot.ImageURL != "" {
		score += 5
	}
	if len(f.AuctionHouses) > 0 && slices.Contains(f.AuctionHouses, lot.AuctionHouse) {
		score += 10
	}
	if len(f.Cities) > 0 && cityMatches(lot, f.Cities) {
		score += 10
	}

	return int(math.Min(100, math.Round(score)))
}

// Reasons explains which active criteria a lot satisfied.
// Entries appear in the order category, keywords, price, house, city.
func Reasons(lot model.Lot, f model.FilterSet) []string {
	var reasons []string

	if len(f.Categories) > 0 && slices.Contains(f.Categories, lot.Category) {
		reasons = append(reasons, "Catégorie: "+lot.Category)
	}

	if len(f.IncludeKeywords) > 0 {
		if kws := matchedKeywords(searchText(lot), f.IncludeKeywords); len(kws) > 0 {
			reasons = append(reasons, "Mots-clés: "+strings.Join(kws, ", "))
		}
	}

	if avg := model.AveragePrice(lot.EstimateMin, lot.EstimateMax); avg > 0 && priceActive(f) {
		reasons = append(reasons, "Prix: "+strconv.FormatFloat(avg, 'f', -1, 64)+"€")
	}

	if len(f.AuctionHouses) > 0 && slices.Contains(f.AuctionHouses, lot.AuctionHouse) {
		reasons = append(reasons, "Maison de vente: "+lot.AuctionHouse)
	}

	if len(f.Cities) > 0 && cityMatches(lot, f.Cities) {
		reasons = append(reasons, "Ville: "+cityLabel(lot))
	}

	return reasons
}

// IsEmpty reports whether the filter set is equivalent to matching everything.
func IsEmpty(f model.FilterSet) bool {
	return !f.Enabled ||
		(len(f.Categories) == 0 &&
			len(f.IncludeKeywords) == 0 &&
			len(f.Cities) == 0 &&
			len(f.AuctionHouses) == 0 &&
			!priceActive(f))
}

// Apply keeps the matching lots, annotates their score and reasons and sorts
// them according to the filter sort mode.
func Apply(lots []model.Lot, f model.FilterSet, now time.Time) []model.Lot {
	var out []model.Lot
	for _, lot := range lots {
		if !Match(lot, f) {
			continue
		}
		lot.MatchScore = Score(lot, f, now)
		lot.MatchReason = Reasons(lot, f)
		out = append(out, lot)
	}

	if f.SortMode == model.SortEstimateAsc {
		sort.SliceStable(out, func(i, j int) bool {
			return sortablePrice(out[i]) < sortablePrice(out[j])
		})
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MatchScore > out[j].MatchScore
	})
	return out
}

// Summary describes the active criteria in one line.
func Summary(f model.FilterSet) string {
	var parts []string
	if n := len(f.Categories); n > 0 {
		parts = append(parts, fmt.Sprintf("%d catégorie(s)", n))
	}
	if n := len(f.IncludeKeywords); n > 0 {
		parts = append(parts, fmt.Sprintf("%d mot(s)-clé(s)", n))
	}
	if n := len(f.AuctionHouses); n > 0 {
		parts = append(parts, fmt.Sprintf("%d maison(s) de vente", n))
	}
	if n := len(f.Cities); n > 0 {
		parts = append(parts, fmt.Sprintf("%d ville(s)", n))
	}
	if priceActive(f) {
		parts = append(parts, fmt.Sprintf("prix: %g-%g€", f.PriceMin, f.PriceMax))
	}
	if len(parts) == 0 {
		return "Aucun filtre actif"
	}
	return strings.Join(parts, " • ")
}

func searchText(lot model.Lot) string {
	return strings.ToLower(lot.Title + " " + lot.Description)
}

func matchedKeywords(text string, keywords []string) []string {
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// cityLabel is the name a lot's city is compared under; missing cities
// compare as the unspecified sentinel.
func cityLabel(lot model.Lot) string {
	if c := lot.CityName(); c != "" {
		return c
	}
	return model.UnspecifiedCity
}

func cityMatches(lot model.Lot, cities []string) bool {
	label := cityLabel(lot)
	for _, c := range cities {
		if strings.EqualFold(c, label) {
			return true
		}
	}
	return false
}

func priceActive(f model.FilterSet) bool {
	return f.PriceMin != model.DefaultPriceMin || f.PriceMax != model.DefaultPriceMax
}

func sortablePrice(lot model.Lot) float64 {
	if avg := model.AveragePrice(lot.EstimateMin, lot.EstimateMax); avg > 0 {
		return avg
	}
	return math.Inf(1)
}
