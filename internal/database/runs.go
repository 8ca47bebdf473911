package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/maltedev/catalog-scraper/internal/scraper"
)

const (
	AggregateCrawlRun       = "crawl_run"
	EventCrawlRunFinished   = "CRAWL_RUN_FINISHED"
	finishedPayloadTopItems = 10
)

var listingColumns = []string{
	"run_id", "link", "name", "price_raw", "price", "seller_name",
	"sold_raw", "sold_count", "revenue", "page", "first_seen_at",
}

// RunSummary is a persisted crawl run without its listings.
type RunSummary struct {
	ID             string           `json:"id"`
	StartURL       string           `json:"start_url"`
	Terminal       scraper.Terminal `json:"terminal"`
	Pages          int              `json:"pages"`
	TotalListings  int              `json:"total_listings"`
	TotalSoldCount int64            `json:"total_sold_count"`
	TotalRevenue   int64            `json:"total_revenue"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	Cause          string           `json:"cause,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
}

// RunFinishedPayload is the body of a CRAWL_RUN_FINISHED event.
type RunFinishedPayload struct {
	RunID          string           `json:"run_id"`
	StartURL       string           `json:"start_url"`
	Terminal       scraper.Terminal `json:"terminal"`
	Pages          int              `json:"pages"`
	TotalListings  int              `json:"total_listings"`
	TotalSoldCount int64            `json:"total_sold_count"`
	TotalRevenue   int64            `json:"total_revenue"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	TopListings    []models.Listing `json:"top_listings"`
	FinishedAt     time.Time        `json:"finished_at"`
}

type RunRepository struct {
	db     *DB
	outbox *OutboxRepository
}

func NewRunRepository(db *DB, outbox *OutboxRepository) *RunRepository {
	return &RunRepository{db: db, outbox: outbox}
}

// SaveRun stores a finished run with all of its listings, replacing any
// earlier copy of the same run. When an outbox is configured the completion
// event is written in the same transaction.
func (r *RunRepository) SaveRun(ctx context.Context, result *scraper.Result) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("run result without id")
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO crawl_runs (
				id, start_url, terminal, pages, total_listings,
				total_sold_count, total_revenue, error_kind, cause,
				started_at, finished_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				terminal = EXCLUDED.terminal,
				pages = EXCLUDED.pages,
				total_listings = EXCLUDED.total_listings,
				total_sold_count = EXCLUDED.total_sold_count,
				total_revenue = EXCLUDED.total_revenue,
				error_kind = EXCLUDED.error_kind,
				cause = EXCLUDED.cause,
				finished_at = EXCLUDED.finished_at`

		_, err := tx.Exec(ctx, query,
			result.ID, result.StartURL, string(result.Terminal), result.PageNumber,
			result.TotalListings, result.TotalSoldCount, result.TotalRevenue,
			nullable(result.ErrorKind), nullable(result.Cause),
			result.StartedAt, result.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert crawl run: %w", err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM catalog_listings WHERE run_id = $1", result.ID); err != nil {
			return fmt.Errorf("failed to clear listings: %w", err)
		}

		if len(result.Listings) > 0 {
			copied, err := tx.CopyFrom(ctx,
				pgx.Identifier{"catalog_listings"},
				listingColumns,
				pgx.CopyFromRows(listingRows(result.ID, result.Listings)),
			)
			if err != nil {
				return fmt.Errorf("failed to copy listings: %w", err)
			}
			if int(copied) != len(result.Listings) {
				return fmt.Errorf("copied %d of %d listings", copied, len(result.Listings))
			}
		}

		if r.outbox == nil {
			return nil
		}

		event, err := RunFinishedEvent(result)
		if err != nil {
			return err
		}
		return r.outbox.InsertWithTx(ctx, tx, event)
	})
}

func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, start_url, terminal, pages, total_listings,
			total_sold_count, total_revenue,
			COALESCE(error_kind, ''), COALESCE(cause, ''),
			started_at, finished_at
		FROM crawl_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var run RunSummary
		var terminal string
		if err := rows.Scan(
			&run.ID, &run.StartURL, &terminal, &run.Pages, &run.TotalListings,
			&run.TotalSoldCount, &run.TotalRevenue, &run.ErrorKind, &run.Cause,
			&run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Terminal = scraper.Terminal(terminal)
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// GetListings returns the stored listings of a run ordered by revenue.
func (r *RunRepository) GetListings(ctx context.Context, runID string, limit int) ([]models.Listing, error) {
	query := `
		SELECT link, name, price_raw, price, seller_name,
			sold_raw, sold_count, revenue, page, first_seen_at
		FROM catalog_listings
		WHERE run_id = $1
		ORDER BY revenue DESC, first_seen_at ASC`
	args := []interface{}{runID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(
			&l.Link, &l.Name, &l.PriceRaw, &l.Price, &l.SellerName,
			&l.SoldRaw, &l.SoldCount, &l.Revenue, &l.Page, &l.FirstSeenAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return listings, nil
}

// RunFinishedEvent builds the outbox event announcing a finished run.
func RunFinishedEvent(result *scraper.Result) (*OutboxEvent, error) {
	top := result.Listings
	if len(top) > finishedPayloadTopItems {
		top = top[:finishedPayloadTopItems]
	}

	payload, err := json.Marshal(RunFinishedPayload{
		RunID:          result.ID,
		StartURL:       result.StartURL,
		Terminal:       result.Terminal,
		Pages:          result.PageNumber,
		TotalListings:  result.TotalListings,
		TotalSoldCount: result.TotalSoldCount,
		TotalRevenue:   result.TotalRevenue,
		ErrorKind:      result.ErrorKind,
		TopListings:    top,
		FinishedAt:     result.FinishedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run payload: %w", err)
	}

	return &OutboxEvent{
		AggregateType: AggregateCrawlRun,
		AggregateID:   result.ID,
		EventType:     EventCrawlRunFinished,
		Payload:       payload,
	}, nil
}

func listingRows(runID string, listings []models.Listing) [][]interface{} {
	rows := make([][]interface{}, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, []interface{}{
			runID, l.Link, l.Name, l.PriceRaw, l.Price, l.SellerName,
			l.SoldRaw, l.SoldCount, l.Revenue, l.Page, l.FirstSeenAt,
		})
	}
	return rows
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
