package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/catalog-scraper/internal/api"
	"github.com/maltedev/catalog-scraper/internal/browser"
	"github.com/maltedev/catalog-scraper/internal/config"
	"github.com/maltedev/catalog-scraper/internal/database"
	"github.com/maltedev/catalog-scraper/internal/events"
	"github.com/maltedev/catalog-scraper/internal/jobs"
	"github.com/maltedev/catalog-scraper/internal/logging"
	"github.com/maltedev/catalog-scraper/internal/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := scraper.NewMetrics()
	manager := jobs.NewManager(
		browser.NewSessionFactory(cfg.BrowserOptions(), logger),
		cfg.CrawlOptions(),
		logger,
	).WithMetrics(metrics).WithConcurrency(cfg.Crawl.MaxConcurrentRuns)

	handlers := api.NewHandlers(manager, logger)

	var db *database.DB
	var outbox *database.OutboxRepository
	if cfg.Database.Enabled {
		db, err = database.New(ctx, cfg.DatabaseConfig())
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			logger.Error("Failed to prepare database schema", "error", err)
			os.Exit(1)
		}

		outbox = database.NewOutboxRepository(db, cfg.Redis.Stream)
		runs := database.NewRunRepository(db, outbox)
		manager.WithStore(runs)
		handlers.WithHistory(runs).WithOutbox(outbox)
		logger.Info("Run persistence enabled", "database", cfg.Database.DBName)
	}

	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		publisher := events.NewPublisher(redisClient, cfg.Redis.Stream, cfg.Redis.MaxLen, logger)
		manager.WithProgressReporter(publisher)

		if outbox != nil {
			// Finished runs reach the stream through the outbox relay.
			relay := database.NewRelay(outbox, redisClient, logger, database.RelayConfig{
				StreamMaxLen: cfg.Redis.MaxLen,
			})
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Outbox relay stopped", "error", err)
				}
			}()
		} else {
			manager.WithFinishPublisher(publisher)
		}
		logger.Info("Event publishing enabled", "stream", cfg.Redis.Stream)
	}

	router := api.NewRouter(handlers, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting catalog crawl API", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Crawl jobs did not stop in time", "error", err)
	}
	cancel()

	logger.Info("Server exited")
}
