package resolver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrNoCity is returned when a page carries no usable locality.
var ErrNoCity = errors.New("no city in structured data")

type structuredData struct {
	Address struct {
		AddressLocality string `json:"addressLocality"`
	} `json:"address"`
}

// ExtractCity reads address.addressLocality from the JSON-LD blocks of an
// auctioneer page. The first block carrying a locality wins.
func ExtractCity(page []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	for _, block := range jsonLDBlocks(doc) {
		if city := localityOf(block); city != "" {
			return city, nil
		}
	}
	return "", ErrNoCity
}

func jsonLDBlocks(n *html.Node) []string {
	var blocks []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script && isJSONLD(n) {
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}
			blocks = append(blocks, strings.TrimSpace(sb.String()))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return blocks
}

func isJSONLD(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "type" && strings.EqualFold(strings.TrimSpace(a.Val), "application/ld+json") {
			return true
		}
	}
	return false
}

// localityOf accepts a single object or an array of objects.
func localityOf(block string) string {
	var single structuredData
	if err := json.Unmarshal([]byte(block), &single); err == nil {
		return strings.TrimSpace(single.Address.AddressLocality)
	}
	var many []structuredData
	if err := json.Unmarshal([]byte(block), &many); err == nil {
		for _, d := range many {
			if city := strings.TrimSpace(d.Address.AddressLocality); city != "" {
				return city
			}
		}
	}
	return ""
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))

// Slug converts an auction house name into the path segment used by
// auctioneer page URLs: lowercase ASCII words joined by hyphens.
func Slug(name string) string {
	plain, _, err := transform.String(stripMarks, strings.ToLower(name))
	if err != nil {
		plain = strings.ToLower(name)
	}

	var sb strings.Builder
	pendingDash := false
	for _, r := range plain {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingDash = false
			sb.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return sb.String()
}
