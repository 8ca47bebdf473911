package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/catalog-scraper/internal/models"
)

var blockElements = map[string]bool{
	"address": true, "article": true, "br": true, "dd": true, "div": true,
	"dl": true, "dt": true, "footer": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "li": true, "p": true,
	"section": true, "table": true, "td": true, "tr": true, "ul": true,
}

// ExtractListingsFromHTML finds every anchor whose rendered text carries the
// currency marker, the same selection the in-page extraction script makes.
// Relative links are resolved against base.
func (p *CatalogParser) ExtractListingsFromHTML(html string, base *url.URL) ([]models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var listings []models.RawListing
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(blockText(s))
		if !strings.Contains(text, p.currencyMarker) {
			return
		}

		href, _ := s.Attr("href")
		link := resolveLink(base, strings.TrimSpace(href))
		if link == "" {
			return
		}

		listings = append(listings, models.RawListing{
			DisplayText: text,
			Link:        link,
		})
	})

	return listings, nil
}

// blockText approximates innerText: block-level children start a new line.
func blockText(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(i int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		switch {
		case name == "#text":
			b.WriteString(c.Text())
		case name == "script" || name == "style":
		case blockElements[name]:
			b.WriteString("\n")
			b.WriteString(blockText(c))
			b.WriteString("\n")
		default:
			b.WriteString(blockText(c))
		}
	})
	return b.String()
}

func resolveLink(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// ExtractListingsFromHTML uses the default parser.
func ExtractListingsFromHTML(html string, base *url.URL) ([]models.RawListing, error) {
	return defaultParser.ExtractListingsFromHTML(html, base)
}
