package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/catalog-scraper/internal/parser"
	"github.com/maltedev/catalog-scraper/internal/ratelimit"
	"github.com/maltedev/catalog-scraper/internal/storage"
)

// Crawler runs catalog crawls. A single Crawler may serve concurrent runs;
// every run opens its own driver session and owns its own CrawlState.
type Crawler struct {
	newSession SessionFactory
	opts       *Options
	parser     parser.Parser
	reporter   Reporter
	metrics    *Metrics
	logger     *slog.Logger
}

func NewCrawler(newSession SessionFactory, opts *Options, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		newSession: newSession,
		opts:       opts.withDefaults(),
		parser:     parser.NewCatalogParser(),
		logger:     logger.With("component", "catalog_crawler"),
	}
}

func (c *Crawler) WithReporter(r Reporter) *Crawler {
	c.reporter = r
	return c
}

func (c *Crawler) WithMetrics(m *Metrics) *Crawler {
	c.metrics = m
	return c
}

// Run crawls the catalog starting at startURL with a fresh run ID.
func (c *Crawler) Run(ctx context.Context, startURL string) *Result {
	return c.RunWithID(ctx, uuid.New().String(), startURL, nil)
}

// RunWithID crawls the catalog and always returns a Result; failures are
// reported through Result.Terminal and Result.Err. reporter, when non-nil,
// receives progress in addition to the crawler's own reporter.
func (c *Crawler) RunWithID(ctx context.Context, runID, startURL string, reporter Reporter) *Result {
	state := NewCrawlState(runID, storage.NewListingStore(c.parser))
	result := &Result{
		ID:        runID,
		StartURL:  startURL,
		StartedAt: time.Now(),
	}

	logger := c.logger.With("run_id", runID)
	reporters := Reporters{c.reporter, reporter}

	var err error
	if err = ValidateStartURL(startURL); err == nil {
		c.metrics.RunStarted()
		err = c.runSession(ctx, state, startURL, reporters, logger)
		if !state.Terminal.IsFinal() {
			state.Terminal = TerminalAborted
		}
		c.metrics.RunFinished(state.Terminal)
	} else {
		state.Terminal = TerminalAborted
	}

	result.Terminal = state.Terminal
	result.PageNumber = state.PageNumber
	result.Listings = state.Listings.Snapshot()
	result.TotalListings = len(result.Listings)
	result.TotalRevenue = state.Listings.AggregateRevenue()
	result.TotalSoldCount = state.Listings.AggregateSoldCount()
	result.FinishedAt = time.Now()
	if err != nil {
		result.Err = err
		result.Cause = err.Error()
		result.ErrorKind = ErrorKind(err)
		c.metrics.IncError(result.ErrorKind)
	}

	if result.Terminal == TerminalAborted {
		logger.Error("crawl aborted",
			"page", result.PageNumber,
			"kept", state.Listings.GetStats(),
			"kind", result.ErrorKind,
			"error", err)
	} else {
		logger.Info("crawl completed",
			"terminal", result.Terminal,
			"pages", result.PageNumber,
			"listings", result.TotalListings,
			"revenue", parser.FormatRupiah(result.TotalRevenue),
			"duration", result.Duration())
	}

	return result
}

// runSession holds the driver session for the whole run and releases it on
// every exit path.
func (c *Crawler) runSession(ctx context.Context, state *CrawlState, startURL string, reporter Reporter, logger *slog.Logger) error {
	driver, err := c.newSession(ctx)
	if err != nil {
		state.Terminal = TerminalAborted
		return asDriverError("open browser session", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn("failed to release browser session", "error", err)
		}
	}()

	state.Terminal = TerminalRunning
	logger.Info("starting catalog crawl", "url", startURL, "max_pages", c.opts.MaxPages)

	if err := driver.Navigate(ctx, startURL); err != nil {
		state.Terminal = TerminalAborted
		if ctx.Err() != nil {
			return fmt.Errorf("crawl cancelled: %w", ctx.Err())
		}
		if errors.Is(err, ErrDriver) {
			return fmt.Errorf("navigate to %s: %w", startURL, err)
		}
		return fmt.Errorf("%w: navigate to %s: %w", ErrNavigation, startURL, err)
	}

	terminal, err := c.loop(ctx, driver, state, reporter, logger)
	state.Terminal = terminal
	return err
}

func (c *Crawler) loop(ctx context.Context, driver Driver, state *CrawlState, reporter Reporter, logger *slog.Logger) (Terminal, error) {
	limiter := ratelimit.NewAdaptiveRateLimiter(c.opts.AdvanceDelayMin, c.opts.AdvanceDelayMax)
	paginator := NewPaginator(driver, c.opts, limiter, c.metrics, logger)

	for {
		if err := ctx.Err(); err != nil {
			return TerminalAborted, fmt.Errorf("crawl cancelled on page %d: %w", state.PageNumber, err)
		}

		pageStart := time.Now()
		logger.Info("processing catalog page", "page", state.PageNumber)

		if err := c.settle(ctx, driver, state, logger); err != nil {
			return TerminalAborted, err
		}

		inserted, err := c.extract(ctx, driver, state, logger)
		if err != nil {
			return TerminalAborted, err
		}

		if inserted == 0 {
			state.ConsecutiveEmptyPages++
			if state.ConsecutiveEmptyPages >= c.opts.EmptyPageThreshold {
				// empty extraction is common mid-scroll; give the page one more settle
				logger.Warn("no new listings, settling once more",
					"page", state.PageNumber,
					"empty_pages", state.ConsecutiveEmptyPages)
				if err := driver.Settle(ctx); err == nil {
					if inserted, err = c.extract(ctx, driver, state, logger); err != nil {
						return TerminalAborted, err
					}
				} else if ctx.Err() != nil {
					return TerminalAborted, fmt.Errorf("crawl cancelled on page %d: %w", state.PageNumber, ctx.Err())
				}
			}
		}
		if inserted > 0 {
			state.ConsecutiveEmptyPages = 0
		}

		c.metrics.ObservePage(time.Since(pageStart), inserted)

		progress := newProgress(state, inserted, c.opts.TopN)
		logger.Info("page processed",
			"page", progress.PageNumber,
			"new", inserted,
			"listings", progress.TotalListings,
			"sold", progress.TotalSoldCount,
			"revenue", parser.FormatRupiah(progress.TotalRevenue))
		reporter.Report(ctx, progress)

		if state.PageNumber >= c.opts.MaxPages {
			logger.Info("reached max pages limit", "pages", state.PageNumber)
			return TerminalCompletedLimit, nil
		}

		outcome := paginator.EvaluateAndAdvance(ctx, state)
		switch outcome.Kind {
		case OutcomeAdvanced:
			state.PageNumber = outcome.Page

		case OutcomeExhausted:
			logger.Info("no more pages found", "page", state.PageNumber)
			return TerminalCompletedExhausted, nil

		case OutcomeStalledRetried:
			state.TotalRetries++
			c.metrics.IncRetry()
			if state.TotalRetries > c.opts.RunRetryBudget {
				return TerminalAborted, fmt.Errorf("retry budget of %d exhausted: %w", c.opts.RunRetryBudget, outcome.Err)
			}

		case OutcomeStalledGivenUp:
			if ctx.Err() != nil {
				return TerminalAborted, fmt.Errorf("crawl cancelled on page %d: %w", state.PageNumber, ctx.Err())
			}
			return TerminalAborted, outcome.Err

		default:
			return TerminalAborted, fmt.Errorf("unknown pagination outcome %q", outcome.Kind)
		}
	}
}

// settle makes up to SettleRetries attempts to bring the page to a stable
// render. A driver failure ends the run immediately.
func (c *Crawler) settle(ctx context.Context, driver Driver, state *CrawlState, logger *slog.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.SettleRetries; attempt++ {
		err := driver.Settle(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("crawl cancelled on page %d: %w", state.PageNumber, ctx.Err())
		}
		if errors.Is(err, ErrDriver) {
			return fmt.Errorf("settle page %d: %w", state.PageNumber, err)
		}

		lastErr = err
		logger.Warn("page did not settle", "page", state.PageNumber, "attempt", attempt, "error", err)
	}

	return fmt.Errorf("%w: page %d did not settle after %d attempts: %w",
		ErrSettleTimeout, state.PageNumber, c.opts.SettleRetries, lastErr)
}

// extract folds the current page into the store and returns how many new
// listings it contributed.
func (c *Crawler) extract(ctx context.Context, driver Driver, state *CrawlState, logger *slog.Logger) (int, error) {
	records, err := driver.ExtractCurrentPage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("crawl cancelled on page %d: %w", state.PageNumber, ctx.Err())
		}
		if !errors.Is(err, ErrExtraction) {
			return 0, asDriverError(fmt.Sprintf("extract page %d", state.PageNumber), err)
		}
		c.metrics.IncError(ErrorKind(err))
		logger.Warn("extraction failed, treating page as empty", "page", state.PageNumber, "error", err)
		return 0, nil
	}

	inserted := 0
	for _, record := range records {
		if !record.IsValid() {
			c.metrics.IncError(ErrorKind(ErrExtraction))
			logger.Debug("skipping unreadable listing", "page", state.PageNumber, "link", record.Link)
			continue
		}
		if state.Listings.UpsertIfAbsent(record, state.PageNumber) {
			inserted++
		}
	}

	logger.Debug("extracted listings", "page", state.PageNumber, "records", len(records), "new", inserted)
	return inserted, nil
}
