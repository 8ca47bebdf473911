package parser

import (
	"regexp"
	"strings"

	"github.com/maltedev/catalog-scraper/internal/models"
)

var (
	// discount badges, ratings and bare counters that are never a name or seller
	noisePattern = regexp.MustCompile(`^(?:[-+]?\d+(?:[.,]\d+)?\s*%|[★⭐]?\s*\d(?:[.,]\d)?(?:\s*\(\d+\))?|\d+)$`)
)

// ParseListing recovers name, price, seller and sold count from the
// display text of a raw record. Missing fields degrade to zero values and
// the seller defaults to models.UnknownSeller.
func (p *CatalogParser) ParseListing(raw models.RawListing, page int) *models.Listing {
	listing := models.NewListing(raw.Link, page)
	lines := splitLines(raw.DisplayText)

	var priceLine, soldLine string
	var rest []string
	for _, line := range lines {
		switch {
		case priceLine == "" && p.isPriceLine(line):
			priceLine = line
		case soldLine == "" && p.isSoldLine(line):
			soldLine = line
		case p.isPriceLine(line) || p.isSoldLine(line):
			// strike-through original price or a second sold badge
		default:
			if !noisePattern.MatchString(line) {
				rest = append(rest, line)
			}
		}
	}

	if priceLine == "" && p.isPriceLine(raw.DisplayText) {
		priceLine = strings.TrimSpace(raw.DisplayText)
	}
	if soldLine == "" && p.isSoldLine(raw.DisplayText) {
		soldLine = strings.TrimSpace(raw.DisplayText)
	}

	switch {
	case len(rest) > 0:
		listing.Name = rest[0]
	case len(lines) > 0:
		listing.Name = lines[0]
	}
	if len(rest) > 1 {
		listing.SellerName = rest[1]
	}

	listing.SetPrice(priceLine, p.NormalizePrice(priceLine))
	listing.SetSold(soldLine, p.NormalizeSoldCount(soldLine))

	return listing
}

func (p *CatalogParser) isPriceLine(line string) bool {
	return p.pricePattern.MatchString(line)
}

func (p *CatalogParser) isSoldLine(line string) bool {
	return strings.Contains(strings.ToLower(line), p.soldMarker)
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
