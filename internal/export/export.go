package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/catalog-scraper/internal/models"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var Header = []string{"name", "price", "sold", "revenue", "seller", "link", "price_raw", "sold_raw", "page"}

// WriteCSV writes one row per listing in the order given.
func WriteCSV(w io.Writer, listings []models.Listing) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, l := range listings {
		record := []string{
			l.Name,
			strconv.FormatInt(l.Price, 10),
			strconv.FormatInt(l.SoldCount, 10),
			strconv.FormatInt(l.Revenue, 10),
			l.SellerName,
			l.Link,
			l.PriceRaw,
			l.SoldRaw,
			strconv.Itoa(l.Page),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func WriteJSON(w io.Writer, listings []models.Listing) error {
	if listings == nil {
		listings = []models.Listing{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(listings); err != nil {
		return fmt.Errorf("encode json listings: %w", err)
	}
	return nil
}

// FileName builds "<prefix>_<timestamp>.<format>".
func FileName(prefix, format string, at time.Time) string {
	if prefix == "" {
		prefix = "listings"
	}
	return fmt.Sprintf("%s_%s.%s", prefix, at.Format("2006-01-02_15-04-05"), format)
}

// ToFile writes listings into dir and returns the created path.
func ToFile(dir, prefix, format string, listings []models.Listing, at time.Time) (string, error) {
	format = strings.ToLower(format)

	var write func(io.Writer, []models.Listing) error
	switch format {
	case FormatCSV:
		write = WriteCSV
	case FormatJSON:
		write = WriteJSON
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}

	path := filepath.Join(dir, FileName(prefix, format, at))
	if err := ensureDir(path); err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s file: %w", format, err)
	}

	if err := write(f, listings); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s file: %w", format, err)
	}

	return path, nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
