package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/catalog-scraper/internal/scraper"
	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventTypeCrawlProgress EventType = "CRAWL_PAGE_PROCESSED"
	EventTypeCrawlFinished EventType = "CRAWL_RUN_FINISHED"

	DefaultStream = "stream:catalog_crawl"
)

type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type ProgressPayload struct {
	EventID          string    `json:"event_id"`
	EventType        string    `json:"event_type"`
	Timestamp        time.Time `json:"timestamp"`
	RunID            string    `json:"run_id"`
	PageNumber       int       `json:"page_number"`
	InsertedThisPage int       `json:"inserted_this_page"`
	TotalListings    int       `json:"total_listings"`
	TotalSoldCount   int64     `json:"total_sold_count"`
	TotalRevenue     int64     `json:"total_revenue"`
	TopLinks         []string  `json:"top_links,omitempty"`
}

type FinishedPayload struct {
	EventID        string           `json:"event_id"`
	EventType      string           `json:"event_type"`
	Timestamp      time.Time        `json:"timestamp"`
	RunID          string           `json:"run_id"`
	StartURL       string           `json:"start_url"`
	Terminal       scraper.Terminal `json:"terminal"`
	Pages          int              `json:"pages"`
	TotalListings  int              `json:"total_listings"`
	TotalSoldCount int64            `json:"total_sold_count"`
	TotalRevenue   int64            `json:"total_revenue"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	Cause          string           `json:"cause,omitempty"`
}

// Publisher writes crawl events to a Redis stream. It implements
// scraper.Reporter so it can be attached to a run directly.
type Publisher struct {
	redis  RedisClient
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewPublisher(client RedisClient, stream string, maxLen int64, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		redis:  client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "event_publisher"),
	}
}

// Report publishes a progress event. Publishing failures are logged and
// never interrupt the crawl.
func (p *Publisher) Report(ctx context.Context, progress scraper.Progress) {
	payload := &ProgressPayload{
		RunID:            progress.RunID,
		PageNumber:       progress.PageNumber,
		InsertedThisPage: progress.InsertedThisPage,
		TotalListings:    progress.TotalListings,
		TotalSoldCount:   progress.TotalSoldCount,
		TotalRevenue:     progress.TotalRevenue,
	}
	for _, l := range progress.TopListings {
		payload.TopLinks = append(payload.TopLinks, l.Link)
	}

	if err := p.PublishProgress(ctx, payload); err != nil {
		p.logger.Warn("failed to publish progress", "run_id", progress.RunID, "page", progress.PageNumber, "error", err)
	}
}

func (p *Publisher) PublishProgress(ctx context.Context, payload *ProgressPayload) error {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	payload.EventType = string(EventTypeCrawlProgress)
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	return p.publish(ctx, EventTypeCrawlProgress, payload.RunID, payload.EventID, payload.Timestamp, payload)
}

func (p *Publisher) PublishFinished(ctx context.Context, result *scraper.Result) error {
	payload := &FinishedPayload{
		EventID:        uuid.New().String(),
		EventType:      string(EventTypeCrawlFinished),
		Timestamp:      time.Now(),
		RunID:          result.ID,
		StartURL:       result.StartURL,
		Terminal:       result.Terminal,
		Pages:          result.PageNumber,
		TotalListings:  result.TotalListings,
		TotalSoldCount: result.TotalSoldCount,
		TotalRevenue:   result.TotalRevenue,
		ErrorKind:      result.ErrorKind,
		Cause:          result.Cause,
	}
	if err := p.publish(ctx, EventTypeCrawlFinished, payload.RunID, payload.EventID, payload.Timestamp, payload); err != nil {
		return err
	}

	p.logger.Info("run finished event published",
		"run_id", result.ID,
		"terminal", result.Terminal,
		"listings", result.TotalListings)
	return nil
}

func (p *Publisher) publish(ctx context.Context, eventType EventType, runID, eventID string, ts time.Time, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data":       string(data),
			"event_type": string(eventType),
			"event_id":   eventID,
			"run_id":     runID,
			"timestamp":  strconv.FormatInt(ts.UnixNano(), 10),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if _, err := p.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}
