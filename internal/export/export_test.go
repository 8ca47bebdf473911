package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleListings() []models.Listing {
	a := models.NewListing("https://katalog.test/p/1", 1)
	a.Name = "Infusion Set, Dewasa"
	a.SellerName = "PT Medika"
	a.SetPrice("Rp 25.000", 25000)
	a.SetSold("Terjual 1,2rb", 1200)

	b := models.NewListing("https://katalog.test/p/2", 2)
	b.Name = "Kasa Steril"
	b.SetPrice("Rp 5.000", 5000)

	return []models.Listing{*a, *b}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleListings()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{
		"Infusion Set, Dewasa", "25000", "1200", "30000000", "PT Medika",
		"https://katalog.test/p/1", "Rp 25.000", "Terjual 1,2rb", "1",
	}, records[1])
	assert.Equal(t, models.UnknownSeller, records[2][4])
	assert.Equal(t, "0", records[2][3])
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "name,price,sold,revenue,seller,link,price_raw,sold_raw,page\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleListings()))

	var decoded []models.Listing
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, int64(30000000), decoded[0].Revenue)

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestFileName(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "b-braun_2024-03-09_14-05-07.csv", FileName("b-braun", FormatCSV, at))
	assert.Equal(t, "listings_2024-03-09_14-05-07.json", FileName("", FormatJSON, at))
}

func TestToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	tests := []struct {
		format string
		prefix string
	}{
		{FormatCSV, "run"},
		{FormatJSON, "run"},
		{"CSV", "upper"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			path, err := ToFile(dir, tt.prefix, tt.format, sampleListings(), at)
			require.NoError(t, err)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Greater(t, info.Size(), int64(0))
			assert.Equal(t, dir, filepath.Dir(path))
		})
	}
}

func TestToFile_UnsupportedFormat(t *testing.T) {
	_, err := ToFile(t.TempDir(), "run", "xlsx", sampleListings(), time.Now())
	assert.Error(t, err)
}
