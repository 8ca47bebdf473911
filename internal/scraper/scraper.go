package scraper

import (
	"context"
	"time"

	"github.com/maltedev/catalog-scraper/internal/models"
)

// PageControl is the catalog's "next page" widget as exposed by a driver.
type PageControl interface {
	// NextVisible reports whether the next control exists and is visible.
	NextVisible(ctx context.Context) (bool, error)
	// NextDisabled reports whether the next control is currently disabled.
	NextDisabled(ctx context.Context) (bool, error)
	// ActivateNext clicks the next control and waits until the new page has settled.
	ActivateNext(ctx context.Context) error
}

// Extractor reads listings from the page as it is currently rendered.
//
// Every returned record must carry enough display text to recover name,
// price, seller and sold count, and its Link must be stable across repeated
// calls for the same item. Records the driver cannot read are skipped; a
// failure of the whole call that is safe to ignore wraps ErrExtraction.
type Extractor interface {
	ExtractCurrentPage(ctx context.Context) ([]models.RawListing, error)
}

// Driver is one browser session bound to a single crawl run.
type Driver interface {
	PageControl
	Extractor
	Navigate(ctx context.Context, url string) error
	// Settle scrolls and waits so lazily loaded listings are rendered.
	Settle(ctx context.Context) error
	Close() error
}

// SessionFactory opens a fresh driver session. Each run owns the session it
// opens and closes it before returning.
type SessionFactory func(ctx context.Context) (Driver, error)

type Options struct {
	MaxPages             int
	SettleRetries        int
	StallRetryCeiling    int
	EmptyPageThreshold   int
	RunRetryBudget       int
	DisabledConfirmDelay time.Duration
	AdvanceDelayMin      time.Duration
	AdvanceDelayMax      time.Duration
	TopN                 int
}

func DefaultOptions() *Options {
	return &Options{
		MaxPages:             10,
		SettleRetries:        3,
		StallRetryCeiling:    3,
		EmptyPageThreshold:   2,
		RunRetryBudget:       10,
		DisabledConfirmDelay: 1500 * time.Millisecond,
		AdvanceDelayMin:      2 * time.Second,
		AdvanceDelayMax:      4 * time.Second,
		TopN:                 10,
	}
}

// withDefaults fills zero values so a partially populated Options is usable.
func (o *Options) withDefaults() *Options {
	d := DefaultOptions()
	if o == nil {
		return d
	}
	out := *o
	if out.MaxPages <= 0 {
		out.MaxPages = d.MaxPages
	}
	if out.SettleRetries <= 0 {
		out.SettleRetries = d.SettleRetries
	}
	if out.StallRetryCeiling < 0 {
		out.StallRetryCeiling = d.StallRetryCeiling
	}
	if out.EmptyPageThreshold <= 0 {
		out.EmptyPageThreshold = d.EmptyPageThreshold
	}
	if out.RunRetryBudget < 0 {
		out.RunRetryBudget = d.RunRetryBudget
	}
	if out.AdvanceDelayMax < out.AdvanceDelayMin {
		out.AdvanceDelayMax = out.AdvanceDelayMin
	}
	if out.TopN <= 0 {
		out.TopN = d.TopN
	}
	return &out
}
