package parser

import (
	"net/url"

	"github.com/maltedev/catalog-scraper/internal/models"
)

type Parser interface {
	ParseListing(raw models.RawListing, page int) *models.Listing
	NormalizePrice(raw string) int64
	NormalizeSoldCount(raw string) int64
	ExtractListingsFromHTML(html string, base *url.URL) ([]models.RawListing, error)
}

var defaultParser = NewCatalogParser()

// NormalizePrice converts currency text such as "Rp 1.250.000" into an
// integer amount using the default catalog markers. It never fails.
func NormalizePrice(raw string) int64 {
	return defaultParser.NormalizePrice(raw)
}

// NormalizeSoldCount converts sale-count text such as "Terjual 1,2rb" into
// an integer count using the default catalog markers. It never fails.
func NormalizeSoldCount(raw string) int64 {
	return defaultParser.NormalizeSoldCount(raw)
}

// ParseListing folds a raw record into a Listing using the default parser.
func ParseListing(raw models.RawListing, page int) *models.Listing {
	return defaultParser.ParseListing(raw, page)
}
