package scraper

import (
	"context"
	"time"

	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/maltedev/catalog-scraper/internal/storage"
)

type Terminal string

const (
	TerminalIdle               Terminal = "idle"
	TerminalRunning            Terminal = "running"
	TerminalCompletedExhausted Terminal = "completed_exhausted"
	TerminalCompletedLimit     Terminal = "completed_limit"
	TerminalAborted            Terminal = "aborted"
)

func (t Terminal) IsFinal() bool {
	return t == TerminalCompletedExhausted || t == TerminalCompletedLimit || t == TerminalAborted
}

// CrawlState is the mutable state of one run. Only the Crawler writes
// PageNumber and Terminal; the paginator maintains ConsecutiveStallCount.
type CrawlState struct {
	RunID                 string
	PageNumber            int
	Listings              *storage.ListingStore
	ConsecutiveEmptyPages int
	ConsecutiveStallCount int
	TotalRetries          int
	Terminal              Terminal
}

func NewCrawlState(runID string, store *storage.ListingStore) *CrawlState {
	if store == nil {
		store = storage.NewListingStore(nil)
	}
	return &CrawlState{
		RunID:      runID,
		PageNumber: 1,
		Listings:   store,
		Terminal:   TerminalIdle,
	}
}

// Progress is emitted after every processed page.
type Progress struct {
	RunID            string           `json:"run_id"`
	PageNumber       int              `json:"page_number"`
	InsertedThisPage int              `json:"inserted_this_page"`
	TotalListings    int              `json:"total_listings"`
	TotalSoldCount   int64            `json:"total_sold_count"`
	TotalRevenue     int64            `json:"total_revenue"`
	TopListings      []models.Listing `json:"top_listings"`
	ReportedAt       time.Time        `json:"reported_at"`

	state *CrawlState
}

// Snapshot returns a copy of every listing accumulated so far.
func (p Progress) Snapshot() []models.Listing {
	if p.state == nil {
		return nil
	}
	return p.state.Listings.Snapshot()
}

func newProgress(state *CrawlState, inserted, topN int) Progress {
	return Progress{
		RunID:            state.RunID,
		PageNumber:       state.PageNumber,
		InsertedThisPage: inserted,
		TotalListings:    state.Listings.Size(),
		TotalSoldCount:   state.Listings.AggregateSoldCount(),
		TotalRevenue:     state.Listings.AggregateRevenue(),
		TopListings:      state.Listings.Top(topN),
		ReportedAt:       time.Now(),
		state:            state,
	}
}

type Reporter interface {
	Report(ctx context.Context, progress Progress)
}

type ReporterFunc func(ctx context.Context, progress Progress)

func (f ReporterFunc) Report(ctx context.Context, progress Progress) {
	f(ctx, progress)
}

// Reporters fans a progress report out to several reporters in order.
type Reporters []Reporter

func (rs Reporters) Report(ctx context.Context, progress Progress) {
	for _, r := range rs {
		if r != nil {
			r.Report(ctx, progress)
		}
	}
}

// Result is the final outcome of a run. Listings holds everything
// accumulated up to the point the run stopped, including on abort.
type Result struct {
	ID             string           `json:"id"`
	StartURL       string           `json:"start_url"`
	Terminal       Terminal         `json:"terminal"`
	PageNumber     int              `json:"page_number"`
	TotalListings  int              `json:"total_listings"`
	TotalSoldCount int64            `json:"total_sold_count"`
	TotalRevenue   int64            `json:"total_revenue"`
	Listings       []models.Listing `json:"listings"`
	Err            error            `json:"-"`
	Cause          string           `json:"cause,omitempty"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
}

func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
