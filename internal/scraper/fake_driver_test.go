package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maltedev/catalog-scraper/internal/models"
)

var errClick = errors.New("element is not attached to the DOM")

// fakeDriver serves a scripted catalog. Page i (0-based) yields pages[i];
// beyond the scripted pages it generates distinct listings.
type fakeDriver struct {
	mu sync.Mutex

	pages         [][]models.RawListing
	current       int
	neverDisabled bool
	noNextControl bool
	disabledReads []bool

	openErr     error
	navigateErr error
	settleErr   error
	extractErr  error
	activateErr error
	emptyReads  int

	navigations   int
	settles       int
	extracts      int
	disabledCalls int
	activations   int
	closes        int
}

func newFakeDriver(pageSizes ...int) *fakeDriver {
	d := &fakeDriver{}
	for i, n := range pageSizes {
		d.pages = append(d.pages, listingsFor(i+1, n))
	}
	return d
}

func listingsFor(page, n int) []models.RawListing {
	records := make([]models.RawListing, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, models.RawListing{
			DisplayText: fmt.Sprintf("Produk %d-%d\nRp %d.000\nToko Alkes\nTerjual %d", page, i, i, page*10+i),
			Link:        fmt.Sprintf("https://katalog.test/p/%d-%d", page, i),
		})
	}
	return records
}

func (d *fakeDriver) factory() SessionFactory {
	return func(ctx context.Context) (Driver, error) {
		if d.openErr != nil {
			return nil, d.openErr
		}
		return d, nil
	}
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigations++
	return d.navigateErr
}

func (d *fakeDriver) Settle(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settles++
	return d.settleErr
}

func (d *fakeDriver) ExtractCurrentPage(ctx context.Context) ([]models.RawListing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extracts++

	if d.extractErr != nil {
		return nil, d.extractErr
	}
	if d.emptyReads > 0 {
		d.emptyReads--
		return nil, nil
	}
	if d.current < len(d.pages) {
		return d.pages[d.current], nil
	}
	return listingsFor(d.current+1, 4), nil
}

func (d *fakeDriver) NextVisible(ctx context.Context) (bool, error) {
	return !d.noNextControl, nil
}

func (d *fakeDriver) NextDisabled(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disabledCalls++

	if len(d.disabledReads) > 0 {
		v := d.disabledReads[0]
		d.disabledReads = d.disabledReads[1:]
		return v, nil
	}
	if d.neverDisabled {
		return false, nil
	}
	return d.current >= len(d.pages)-1, nil
}

func (d *fakeDriver) ActivateNext(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activations++

	if d.activateErr != nil {
		return d.activateErr
	}
	d.current++
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func testOptions() *Options {
	return &Options{
		MaxPages:           15,
		SettleRetries:      3,
		StallRetryCeiling:  3,
		EmptyPageThreshold: 2,
		RunRetryBudget:     10,
		TopN:               10,
	}
}
