package fetcher

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const amount = `(\d[\d\s.,\x{a0}\x{202f}]*)`

var (
	estimationRe = regexp.MustCompile(`(?i)estimation[:\s]*` + amount + `\s*[-–€]\s*` + amount + `\s*€`)
	rangeRe      = regexp.MustCompile(amount + `\s*[-–]\s*` + amount + `\s*€`)
	singleRe     = regexp.MustCompile(amount + `\s*€`)

	saleDateRe = regexp.MustCompile(`(?i)(\d{1,2})\s+(janvier|février|fevrier|mars|avril|mai|juin|juillet|août|aout|septembre|octobre|novembre|décembre|decembre)\s+(\d{4})\s+(\d{1,2})[:h](\d{2})`)
)

var frenchMonths = map[string]time.Month{
	"janvier":   time.January,
	"février":   time.February,
	"fevrier":   time.February,
	"mars":      time.March,
	"avril":     time.April,
	"mai":       time.May,
	"juin":      time.June,
	"juillet":   time.July,
	"août":      time.August,
	"aout":      time.August,
	"septembre": time.September,
	"octobre":   time.October,
	"novembre":  time.November,
	"décembre":  time.December,
	"decembre":  time.December,
}

// SaleLocation is the time zone sale dates are written in.
var SaleLocation = loadSaleLocation()

func loadSaleLocation() *time.Location {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseEstimate finds an estimate in free text. It prefers an explicit
// "Estimation" range, then any euro range, then a single euro amount used as
// both bounds. It returns zeros when nothing is found.
func ParseEstimate(text string) (float64, float64) {
	if m := estimationRe.FindStringSubmatch(text); m != nil {
		return parseAmount(m[1]), parseAmount(m[2])
	}
	if m := rangeRe.FindStringSubmatch(text); m != nil {
		return parseAmount(m[1]), parseAmount(m[2])
	}
	if m := singleRe.FindStringSubmatch(text); m != nil {
		v := parseAmount(m[1])
		return v, v
	}
	return 0, 0
}

// parseAmount reads digits only; grouping and decimal separators are dropped.
func parseAmount(s string) float64 {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	v, err := strconv.ParseFloat(sb.String(), 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseSaleDate finds a date written like "14 mars 2026 14:00" or
// "14 mars 2026 14h00".
func ParseSaleDate(text string) (time.Time, bool) {
	m := saleDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := frenchMonths[strings.ToLower(m[2])]
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	if day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	return time.Date(year, month, day, hour, minute, 0, 0, SaleLocation).UTC(), true
}
