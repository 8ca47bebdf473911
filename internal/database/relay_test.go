package database

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if err := mockArgs.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func streamValues(args *redis.XAddArgs) map[string]interface{} {
	values, _ := args.Values.(map[string]interface{})
	return values
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runEvent(runID string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: AggregateCrawlRun,
		AggregateID:   runID,
		EventType:     EventCrawlRunFinished,
		Payload:       json.RawMessage(`{"run_id":"` + runID + `","terminal":"completed_exhausted","total_listings":8}`),
		TargetStream:  DefaultStream,
		CreatedAt:     time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRelay_DeliverBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers and marks every pending event", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, quietLogger(), RelayConfig{BatchSize: 10, StreamMaxLen: 1000})

		events := []*OutboxEvent{runEvent("run-1"), runEvent("run-2")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			event := event
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				values := streamValues(args)
				return args.Stream == DefaultStream &&
					values["event_type"] == EventCrawlRunFinished &&
					values["run_id"] == event.AggregateID &&
					values["event_id"] == event.ID.String() &&
					args.MaxLen == 1000 && args.Approx
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		stats, err := relay.deliverBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, batchStats{Delivered: 2}, stats)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("one failed publish does not stop the batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, quietLogger(), RelayConfig{BatchSize: 10})

		failing := runEvent("run-1")
		passing := runEvent("run-2")
		redisErr := errors.New("redis connection refused")

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{failing, passing}, nil)
		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValues(args)["run_id"] == "run-1"
		})).Return(redisErr)
		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValues(args)["run_id"] == "run-2"
		})).Return(nil)
		mockOutbox.On("MarkFailed", ctx, failing.ID, mock.MatchedBy(func(err error) bool {
			return errors.Is(err, redisErr)
		})).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, passing.ID).Return(nil)

		stats, err := relay.deliverBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, batchStats{Delivered: 1, Failed: 1}, stats)

		mockOutbox.AssertNotCalled(t, "MarkProcessed", mock.Anything, failing.ID)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("outbox read failure is returned", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, quietLogger(), RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("connection reset"))

		_, err := relay.deliverBatch(ctx)
		assert.Error(t, err)
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("nothing pending", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, quietLogger(), RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		stats, err := relay.deliverBatch(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats)
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})
}

func TestStreamFields_MatchDirectPublishing(t *testing.T) {
	event := runEvent("run-7")
	event.RetryCount = 2

	values, err := streamFields(event)
	require.NoError(t, err)

	assert.Equal(t, "run-7", values["run_id"])
	assert.Equal(t, event.ID.String(), values["event_id"])
	assert.Equal(t, EventCrawlRunFinished, values["event_type"])
	assert.Equal(t, "completed_exhausted", values["terminal"])
	assert.Equal(t, "3", values["delivery_attempt"])
	assert.Equal(t, "1790856000000000000", values["timestamp"])

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(values["data"].(string)), &data))
	assert.Equal(t, "run-7", data["run_id"])
	assert.Equal(t, float64(8), data["total_listings"])
	assert.Equal(t, event.ID.String(), data["event_id"])
	assert.Equal(t, EventCrawlRunFinished, data["event_type"])
	assert.Equal(t, "2026-10-01T12:00:00Z", data["timestamp"])
}

func TestStreamFields_RejectsNonObjectPayload(t *testing.T) {
	for _, payload := range []string{`{broken`, `null`, `[1,2]`} {
		event := runEvent("run-1")
		event.Payload = json.RawMessage(payload)

		_, err := streamFields(event)
		assert.Error(t, err, payload)
	}
}

func TestRelay_InvalidPayloadIsNotPublished(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	relay := NewRelay(new(MockOutboxRepository), mockRedis, quietLogger(), RelayConfig{})

	event := runEvent("run-1")
	event.Payload = json.RawMessage(`{broken`)

	assert.Error(t, relay.publish(ctx, event))
	mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
}

func TestRelay_StartStopsOnCancel(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	relay := NewRelay(mockOutbox, new(MockRedisClient), quietLogger(), RelayConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    5,
	})

	mockOutbox.On("GetPending", mock.Anything, 5).Return([]*OutboxEvent{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := relay.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	mockOutbox.AssertCalled(t, "GetPending", mock.Anything, 5)
}
