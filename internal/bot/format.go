package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"lot_monitor/internal/filter"
	"lot_monitor/internal/model"
)

const dateLayout = "02/01/2006 15:04 UTC"

// FormatNotification formats a high-score lot as a Telegram notification.
func FormatNotification(lot model.Lot) string {
	return "Nouveau lot intéressant !\n\n" + FormatLot(lot)
}

// FormatLot formats the details of a single lot.
func FormatLot(lot model.Lot) string {
	var b strings.Builder
	b.WriteString(lot.Title)
	fmt.Fprintf(&b, "\nEstimation : %s", formatEstimate(lot))
	if house := lot.AuctionHouse; house != "" {
		b.WriteString("\n" + house)
		if city := lot.CityName(); city != "" {
			b.WriteString(", " + city)
		}
	}
	if !lot.AuctionDate.IsZero() {
		fmt.Fprintf(&b, "\nVente : %s", lot.AuctionDate.UTC().Format(dateLayout))
	}
	fmt.Fprintf(&b, "\nScore : %d/100", lot.MatchScore)
	if len(lot.MatchReason) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(lot.MatchReason, ", "))
	}
	if lot.URL != "" {
		b.WriteString("\n\n" + lot.URL)
	}
	fmt.Fprintf(&b, "\nID : %s", lot.ID)
	return b.String()
}

// FormatItemList formats at most limit items under a header.
func FormatItemList(header string, items []model.Item, limit int) string {
	if len(items) == 0 {
		return header + " : aucun lot."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d) :\n", header, len(items))
	for i, it := range items {
		if i == limit {
			fmt.Fprintf(&b, "\n… et %d autre(s).", len(items)-limit)
			break
		}
		fmt.Fprintf(&b, "\n• %s\n  %s, score %d\n  %s\n", it.Title, formatEstimate(it.Lot), it.MatchScore, it.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatStats formats the lot counters.
func FormatStats(m model.Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lots suivis : %d\n", m.TotalLots)
	fmt.Fprintf(&b, "Nouveaux : %d\n", m.NewCount)
	fmt.Fprintf(&b, "Vus : %d\n", m.SeenCount)
	fmt.Fprintf(&b, "Favoris : %d\n", m.FavoriteCount)
	fmt.Fprintf(&b, "Ignorés : %d", m.IgnoredCount)
	if !m.LastSync.IsZero() {
		fmt.Fprintf(&b, "\nDernière synchro : %s", m.LastSync.UTC().Format(dateLayout))
	}
	if m.LastCleanup != nil {
		fmt.Fprintf(&b, "\nDernier nettoyage : %s", m.LastCleanup.UTC().Format(dateLayout))
	}
	return b.String()
}

// FormatFilters formats the active filter set.
func FormatFilters(f model.FilterSet) string {
	var b strings.Builder
	status := "actifs"
	if !f.Enabled {
		status = "désactivés"
	}
	fmt.Fprintf(&b, "Filtres %s : %s\n", status, filter.Summary(f))

	lists := []struct {
		label  string
		values []string
	}{
		{"Mots-clés recherchés", f.IncludeKeywords},
		{"Mots-clés exclus", f.ExcludeKeywords},
		{"Catégories", f.Categories},
		{"Catégories exclues", f.ExcludeCategories},
		{"Villes", f.Cities},
		{"Maisons de vente", f.AuctionHouses},
	}
	for _, l := range lists {
		if len(l.values) > 0 {
			fmt.Fprintf(&b, "\n%s : %s", l.label, strings.Join(l.values, ", "))
		}
	}
	fmt.Fprintf(&b, "\nEstimation : %s", formatRange(f.PriceMin, f.PriceMax, "EUR"))
	if !f.DateFrom.IsZero() || !f.DateTo.IsZero() {
		fmt.Fprintf(&b, "\nPériode : %s - %s", formatDay(f.DateFrom), formatDay(f.DateTo))
	}
	if f.OnlyWithImages {
		b.WriteString("\nUniquement avec image")
	}
	return b.String()
}

func formatEstimate(lot model.Lot) string {
	if lot.EstimateMin == 0 && lot.EstimateMax == 0 {
		return "non communiquée"
	}
	return formatRange(lot.EstimateMin, lot.EstimateMax, lot.Currency)
}

func formatRange(lo, hi float64, currency string) string {
	symbol := currency
	if symbol == "" || symbol == "EUR" {
		symbol = "€"
	}
	if lo == hi {
		return formatAmount(lo) + " " + symbol
	}
	return formatAmount(lo) + " - " + formatAmount(hi) + " " + symbol
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return "…"
	}
	return t.UTC().Format("02/01/2006")
}

func stateLabel(s model.ItemState) string {
	switch s {
	case model.StateFavorite:
		return "ajouté aux favoris"
	case model.StateIgnored:
		return "ignoré"
	case model.StateSeen:
		return "marqué comme vu"
	default:
		return "nouveau"
	}
}
