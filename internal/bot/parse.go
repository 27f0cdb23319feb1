package bot

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const maxKeywordLen = 100

// ParseLotIDArg extracts a lot ID from a command argument string.
func ParseLotIDArg(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", errors.New("identifiant du lot requis")
	}
	return fields[0], nil
}

// ParseKeywordArg returns the keyword or phrase of /include and /exclude.
func ParseKeywordArg(args string) (string, error) {
	kw := strings.Join(strings.Fields(args), " ")
	if kw == "" {
		return "", errors.New("mot-clé requis")
	}
	if utf8.RuneCountInString(kw) > maxKeywordLen {
		return "", fmt.Errorf("mot-clé trop long (max %d caractères)", maxKeywordLen)
	}
	return kw, nil
}

// ParsePriceArgs extracts the bounds of /price <min> <max>.
func ParsePriceArgs(args string) (float64, float64, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return 0, 0, errors.New("usage : /price <min> <max>")
	}
	lo, ok := parsePrice(parts[0])
	if !ok {
		return 0, 0, fmt.Errorf("prix minimum invalide %q", parts[0])
	}
	hi, ok := parsePrice(parts[1])
	if !ok {
		return 0, 0, fmt.Errorf("prix maximum invalide %q", parts[1])
	}
	if hi < lo {
		return 0, 0, errors.New("le prix maximum doit être supérieur au minimum")
	}
	if hi == 0 {
		return 0, 0, errors.New("le prix maximum doit être positif")
	}
	return lo, hi, nil
}

func parsePrice(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// addKeyword appends kw unless an equal keyword, ignoring case, is present.
func addKeyword(list []string, kw string) ([]string, bool) {
	for _, k := range list {
		if strings.EqualFold(k, kw) {
			return list, false
		}
	}
	return append(list, kw), true
}
