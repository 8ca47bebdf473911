package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

// Relay delivers outbox events to their Redis streams.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxLen    int64
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	StreamMaxLen int64
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "outbox_relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		maxLen:    config.StreamMaxLen,
	}
}

// Start polls the outbox until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.interval,
		"batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if stats, err := r.deliverBatch(ctx); err != nil {
			r.logger.Error("failed to deliver outbox batch", "error", err)
		} else if stats.Delivered+stats.Failed > 0 {
			r.logger.Info("outbox batch delivered",
				"delivered", stats.Delivered,
				"failed", stats.Failed)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type batchStats struct {
	Delivered int
	Failed    int
}

// deliverBatch publishes up to batchSize due events. A failed event is
// rescheduled by the outbox and does not stop the rest of the batch.
func (r *Relay) deliverBatch(ctx context.Context) (batchStats, error) {
	var stats batchStats

	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to get pending events: %w", err)
	}

	for _, event := range events {
		if err := r.deliver(ctx, event); err != nil {
			stats.Failed++
			r.logger.Warn("run event not delivered",
				"event_id", event.ID,
				"run_id", event.AggregateID,
				"retry_count", event.RetryCount,
				"error", err)
			continue
		}
		stats.Delivered++
	}

	return stats, nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	if err := r.publish(ctx, event); err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed",
				"event_id", event.ID,
				"error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("delivered but not marked processed: %w", err)
	}

	r.logger.Debug("run event delivered",
		"event_id", event.ID,
		"event_type", event.EventType,
		"run_id", event.AggregateID,
		"stream", event.TargetStream)
	return nil
}

// publish writes event in the same shape events.Publisher uses for direct
// delivery, so stream consumers see one format with or without a database.
func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	values, err := streamFields(event)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: values,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish %s for run %s: %w", event.EventType, event.AggregateID, err)
	}
	return nil
}

// streamFields flattens an outbox event into stream entry fields. The
// payload gains event_id, event_type and timestamp; finished runs also
// expose their terminal state as a field so consumers can filter on it.
func streamFields(event *OutboxEvent) (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(event.Payload, &data); err != nil || data == nil {
		return nil, fmt.Errorf("event %s has an invalid payload", event.ID)
	}

	data["event_id"] = event.ID.String()
	data["event_type"] = event.EventType
	data["timestamp"] = event.CreatedAt.Format(time.RFC3339Nano)

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream data: %w", err)
	}

	values := map[string]interface{}{
		"data":             string(encoded),
		"event_type":       event.EventType,
		"event_id":         event.ID.String(),
		"run_id":           event.AggregateID,
		"timestamp":        strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
		"delivery_attempt": strconv.Itoa(event.RetryCount + 1),
	}
	if event.EventType == EventCrawlRunFinished {
		if terminal, ok := data["terminal"].(string); ok {
			values["terminal"] = terminal
		}
	}
	return values, nil
}
