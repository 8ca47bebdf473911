package parser

import (
	"net/url"
	"testing"

	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"Dotted grouping", "Rp 1.250.000", 1250000},
		{"No space", "Rp1.250.000", 1250000},
		{"Decimal part dropped", "Rp 1.250.000,00", 1250000},
		{"Comma grouping", "Rp 1,250,000", 1250000},
		{"Lowercase marker", "rp. 75.000", 75000},
		{"Marker inside text", "Harga mulai Rp 9.900 / pcs", 9900},
		{"Small amount", "Rp 500", 500},
		{"Not available", "N/A", 0},
		{"No marker", "1.250.000", 0},
		{"Marker without digits", "Rp -", 0},
		{"Empty", "", 0},
		{"Overflow", "Rp 999.999.999.999.999.999.999", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePrice(tt.input))
		})
	}
}

func TestNormalizeSoldCount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"Thousand with comma decimal", "Terjual 1,2rb", 1200},
		{"Thousand with dot decimal", "Terjual 1.2rb", 1200},
		{"Million", "Terjual 3jt", 3000000},
		{"Million with decimal", "Terjual 1,25jt", 1250000},
		{"Plus suffix", "Terjual 10rb+", 10000},
		{"Spelled unit", "Terjual 2 ribu", 2000},
		{"Plain count", "Terjual 250", 250},
		{"Plain count with plus", "Terjual 99+", 99},
		{"Grouped integer", "Terjual 1.250", 1250},
		{"Multi-group integer", "Terjual 1.250.000", 1250000},
		{"Multi-group integer with commas", "Terjual 2,500,000+", 2500000},
		{"Decimal without unit keeps whole part", "Terjual 1,5", 1},
		{"Irregular groups keep whole part", "Terjual 1.250.00", 1},
		{"Oversized count", "Terjual 9.999.999.999.999.999", 0},
		{"Lowercase marker", "terjual 7", 7},
		{"Marker after other numbers", "Rp 15.000 Terjual 4", 4},
		{"Marker without digits", "Terjual", 0},
		{"Missing marker", "1,2rb", 0},
		{"Empty", "", 0},
		{"Garbage", "Terjual ???", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeSoldCount(tt.input))
		})
	}
}

func TestFormatRupiah(t *testing.T) {
	assert.Equal(t, "Rp 0", FormatRupiah(0))
	assert.Equal(t, "Rp 999", FormatRupiah(999))
	assert.Equal(t, "Rp 1.000", FormatRupiah(1000))
	assert.Equal(t, "Rp 1.250.000", FormatRupiah(1250000))
}

func TestParseListing(t *testing.T) {
	t.Run("all fields present", func(t *testing.T) {
		raw := models.RawListing{
			DisplayText: "Infusion Set Intrafix\nRp 125.000\nPT Medika Sejahtera\nTerjual 1,2rb",
			Link:        "https://katalog.test/p/infusion-set",
		}

		listing := ParseListing(raw, 2)

		assert.Equal(t, "Infusion Set Intrafix", listing.Name)
		assert.Equal(t, "Rp 125.000", listing.PriceRaw)
		assert.Equal(t, int64(125000), listing.Price)
		assert.Equal(t, "PT Medika Sejahtera", listing.SellerName)
		assert.Equal(t, int64(1200), listing.SoldCount)
		assert.Equal(t, int64(150000000), listing.Revenue)
		assert.Equal(t, 2, listing.Page)
		assert.Equal(t, raw.Link, listing.Link)
	})

	t.Run("missing seller defaults to unknown", func(t *testing.T) {
		listing := ParseListing(models.RawListing{
			DisplayText: "Masker Bedah\nRp 5.000\nTerjual 10",
			Link:        "/p/masker",
		}, 1)

		assert.Equal(t, "Masker Bedah", listing.Name)
		assert.Equal(t, models.UnknownSeller, listing.SellerName)
		assert.Equal(t, int64(50000), listing.Revenue)
	})

	t.Run("badges and ratings are skipped", func(t *testing.T) {
		listing := ParseListing(models.RawListing{
			DisplayText: "20%\nSarung Tangan Nitril\nRp 100.000\nRp 80.000\nToko Alkes\n4.9\nTerjual 3jt",
			Link:        "/p/sarung",
		}, 1)

		assert.Equal(t, "Sarung Tangan Nitril", listing.Name)
		assert.Equal(t, int64(100000), listing.Price)
		assert.Equal(t, "Toko Alkes", listing.SellerName)
		assert.Equal(t, int64(3000000), listing.SoldCount)
	})

	t.Run("no sold line", func(t *testing.T) {
		listing := ParseListing(models.RawListing{
			DisplayText: "Kasa Steril\nRp 12.500",
			Link:        "/p/kasa",
		}, 1)

		assert.Equal(t, int64(12500), listing.Price)
		assert.Equal(t, int64(0), listing.SoldCount)
		assert.Equal(t, int64(0), listing.Revenue)
	})
}

func TestExtractListingsFromHTML(t *testing.T) {
	base, err := url.Parse("https://katalog.test/shop/medika")
	require.NoError(t, err)

	html := `<html><body>
		<div class="grid">
			<a href="/p/kasa"><div>Kasa Steril</div><div><span>Rp 12.500</span></div><div>Terjual 40</div></a>
			<a href="https://katalog.test/p/plester"><div>Plester</div><div>Rp 3.000</div></a>
			<a href="https://katalog.test/about">Tentang kami</a>
			<a href="#">Rp 1</a>
			<a href="javascript:void(0)">Rp 2</a>
		</div>
		<ul class="ant-pagination"><li class="ant-pagination-next"><a>Next</a></li></ul>
	</body></html>`

	listings, err := ExtractListingsFromHTML(html, base)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	assert.Equal(t, "https://katalog.test/p/kasa", listings[0].Link)
	assert.Equal(t, "https://katalog.test/p/plester", listings[1].Link)

	listing := ParseListing(listings[0], 1)
	assert.Equal(t, "Kasa Steril", listing.Name)
	assert.Equal(t, int64(12500), listing.Price)
	assert.Equal(t, int64(40), listing.SoldCount)
}
