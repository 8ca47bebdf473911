package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/maltedev/catalog-scraper/internal/scraper"
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

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func capture(m *MockRedisClient, err error) *[]*redis.XAddArgs {
	var calls []*redis.XAddArgs
	m.On("XAdd", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		calls = append(calls, args.Get(1).(*redis.XAddArgs))
	}).Return(err)
	return &calls
}

func values(t *testing.T, args *redis.XAddArgs) map[string]interface{} {
	t.Helper()
	v, ok := args.Values.(map[string]interface{})
	require.True(t, ok)
	return v
}

func TestPublisher_Report(t *testing.T) {
	client := new(MockRedisClient)
	calls := capture(client, nil)
	publisher := NewPublisher(client, "", 500, quietLogger())

	publisher.Report(context.Background(), scraper.Progress{
		RunID:            "run-1",
		PageNumber:       3,
		InsertedThisPage: 4,
		TotalListings:    12,
		TotalSoldCount:   90,
		TotalRevenue:     1250000,
		TopListings: []models.Listing{
			{Link: "https://katalog.test/p/1"},
			{Link: "https://katalog.test/p/2"},
		},
	})

	require.Len(t, *calls, 1)
	args := (*calls)[0]
	assert.Equal(t, DefaultStream, args.Stream)
	assert.Equal(t, int64(500), args.MaxLen)
	assert.True(t, args.Approx)

	v := values(t, args)
	assert.Equal(t, string(EventTypeCrawlProgress), v["event_type"])
	assert.Equal(t, "run-1", v["run_id"])

	var payload ProgressPayload
	require.NoError(t, json.Unmarshal([]byte(v["data"].(string)), &payload))
	assert.Equal(t, 3, payload.PageNumber)
	assert.Equal(t, int64(1250000), payload.TotalRevenue)
	assert.Equal(t, []string{"https://katalog.test/p/1", "https://katalog.test/p/2"}, payload.TopLinks)
	assert.NotEmpty(t, payload.EventID)
	assert.False(t, payload.Timestamp.IsZero())
}

func TestPublisher_ReportSwallowsErrors(t *testing.T) {
	client := new(MockRedisClient)
	capture(client, errors.New("connection refused"))
	publisher := NewPublisher(client, "stream:test", 0, quietLogger())

	assert.NotPanics(t, func() {
		publisher.Report(context.Background(), scraper.Progress{RunID: "run-1", PageNumber: 1})
	})
	client.AssertNumberOfCalls(t, "XAdd", 1)
}

func TestPublisher_PublishFinished(t *testing.T) {
	client := new(MockRedisClient)
	calls := capture(client, nil)
	publisher := NewPublisher(client, "stream:test", 0, quietLogger())

	err := publisher.PublishFinished(context.Background(), &scraper.Result{
		ID:            "run-9",
		StartURL:      "https://katalog.test/b-braun",
		Terminal:      scraper.TerminalAborted,
		PageNumber:    4,
		TotalListings: 17,
		ErrorKind:     "navigation",
		Cause:         "navigation failure: activate next control",
	})
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	args := (*calls)[0]
	assert.Equal(t, "stream:test", args.Stream)
	assert.Zero(t, args.MaxLen)

	var payload FinishedPayload
	require.NoError(t, json.Unmarshal([]byte(values(t, args)["data"].(string)), &payload))
	assert.Equal(t, "run-9", payload.RunID)
	assert.Equal(t, scraper.TerminalAborted, payload.Terminal)
	assert.Equal(t, 17, payload.TotalListings)
	assert.Equal(t, "navigation", payload.ErrorKind)
}

func TestPublisher_PublishFinishedError(t *testing.T) {
	client := new(MockRedisClient)
	redisErr := errors.New("READONLY You can't write against a read only replica")
	capture(client, redisErr)
	publisher := NewPublisher(client, "", 0, quietLogger())

	err := publisher.PublishFinished(context.Background(), &scraper.Result{ID: "run-1"})
	assert.ErrorIs(t, err, redisErr)
}
