package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/catalog-scraper/internal/browser"
	"github.com/maltedev/catalog-scraper/internal/config"
	"github.com/maltedev/catalog-scraper/internal/database"
	"github.com/maltedev/catalog-scraper/internal/events"
	"github.com/maltedev/catalog-scraper/internal/export"
	"github.com/maltedev/catalog-scraper/internal/logging"
	"github.com/maltedev/catalog-scraper/internal/parser"
	"github.com/maltedev/catalog-scraper/internal/scraper"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var (
		startURL = flag.String("url", cfg.Crawl.StartURL, "Catalog URL to start crawling from")
		maxPages = flag.Int("pages", cfg.Crawl.MaxPages, "Maximum pages to crawl")
		headless = flag.Bool("headless", cfg.Browser.Headless, "Run browser in headless mode")
		outDir   = flag.String("out", cfg.Export.Dir, "Directory for the exported listings")
		format   = flag.String("format", cfg.Export.Format, "Export format: csv or json")
		topN     = flag.Int("top", cfg.Crawl.TopN, "Number of top listings shown per page")
	)
	flag.Parse()

	if *startURL == "" {
		fmt.Println("Please provide a catalog URL with -url")
		flag.Usage()
		os.Exit(1)
	}
	if err := scraper.ValidateStartURL(*startURL); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	cfg.Crawl.MaxPages = *maxPages
	cfg.Crawl.TopN = *topN
	cfg.Browser.Headless = *headless
	cfg.Export.Format = *format
	if err := cfg.Validate(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	logger.Info("Starting catalog crawler", "url", *startURL, "max_pages", cfg.Crawl.MaxPages)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping after the current step")
		cancel()
	}()

	reporters := scraper.Reporters{scraper.ReporterFunc(logProgress(logger))}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		reporters = append(reporters, events.NewPublisher(redisClient, cfg.Redis.Stream, cfg.Redis.MaxLen, logger))
	}

	crawler := scraper.NewCrawler(
		browser.NewSessionFactory(cfg.BrowserOptions(), logger),
		cfg.CrawlOptions(),
		logger,
	).WithReporter(reporters)

	result := crawler.Run(ctx, *startURL)

	path, err := export.ToFile(*outDir, "catalog", cfg.Export.Format, result.Listings, result.FinishedAt)
	if err != nil {
		logger.Error("Failed to export listings", "error", err)
	} else {
		logger.Info("Listings exported", "file", path, "count", len(result.Listings))
	}

	// Sinks get their own context so an interrupted run is still recorded.
	sinkCtx, sinkCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer sinkCancel()

	if err := persist(sinkCtx, cfg, result, logger); err != nil {
		logger.Error("Failed to persist run", "error", err)
	}
	if redisClient != nil && !cfg.Database.Enabled {
		publisher := events.NewPublisher(redisClient, cfg.Redis.Stream, cfg.Redis.MaxLen, logger)
		if err := publisher.PublishFinished(sinkCtx, result); err != nil {
			logger.Error("Failed to publish run result", "error", err)
		}
	}

	printSummary(os.Stdout, result, cfg.Crawl.TopN)

	if result.Terminal == scraper.TerminalAborted && !errors.Is(result.Err, context.Canceled) {
		os.Exit(1)
	}
}

func logProgress(logger *slog.Logger) func(context.Context, scraper.Progress) {
	return func(ctx context.Context, p scraper.Progress) {
		logger.Info("Page processed",
			"page", p.PageNumber,
			"new_listings", p.InsertedThisPage,
			"total_listings", p.TotalListings,
			"total_revenue", parser.FormatRupiah(p.TotalRevenue))
	}
}

// persist stores the run and queues its finished event when a database is
// configured. The API server's relay delivers queued events.
func persist(ctx context.Context, cfg *config.Config, result *scraper.Result, logger *slog.Logger) error {
	if !cfg.Database.Enabled {
		return nil
	}

	db, err := database.New(ctx, cfg.DatabaseConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	runs := database.NewRunRepository(db, database.NewOutboxRepository(db, cfg.Redis.Stream))
	if err := runs.SaveRun(ctx, result); err != nil {
		return err
	}

	logger.Info("Run saved", "run_id", result.ID)
	return nil
}

func printSummary(w io.Writer, result *scraper.Result, topN int) {
	fmt.Fprintf(w, "\nRun %s finished: %s\n", result.ID, result.Terminal)
	if result.Cause != "" {
		fmt.Fprintf(w, "Reason: %s (%s)\n", result.Cause, result.ErrorKind)
	}
	fmt.Fprintf(w, "Pages: %d, listings: %d, sold: %d, revenue: %s, took %s\n",
		result.PageNumber,
		result.TotalListings,
		result.TotalSoldCount,
		parser.FormatRupiah(result.TotalRevenue),
		result.Duration().Round(time.Second))

	top := result.Listings
	if len(top) > topN {
		top = top[:topN]
	}
	for i, l := range top {
		fmt.Fprintf(w, "%2d. %s | %s x %d = %s | %s\n",
			i+1, l.Name, parser.FormatRupiah(l.Price), l.SoldCount, parser.FormatRupiah(l.Revenue), l.SellerName)
	}
}
