package app

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HeadlineBot/internal/config"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
  <item><title>Starmer faces cabinet revolt</title><link>https://news.example.com/revolt?utm_source=rss</link></item>
  <item><title>Cricket results today</title><link>https://news.example.com/cricket</link></item>
</channel></rss>`

type recordingSender struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSender) Send(_ context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return "post-1", nil
}

func (s *recordingSender) Reply(_ context.Context, text, replyTo string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text+" <- "+replyTo)
	return "reply-" + replyTo, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(testFeed))
	}))
	t.Cleanup(feed.Close)

	sentiment := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"compound": -0.8}`))
	}))
	t.Cleanup(sentiment.Close)

	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}
	cfg.Metrics.Addr = ""
	cfg.Sentiment.Provider = "http"
	cfg.Sentiment.Endpoint = sentiment.URL
	cfg.Sources.RequestsPerSecond = 0
	cfg.Sites = []config.SiteConfig{{Name: "Example", Scanner: "rss", URL: feed.URL}}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestApplicationIngestsIntoSQLite(t *testing.T) {
	cfg := testConfig(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 10, 5, 0, 0, 0, time.UTC))

	application, err := New(context.Background(), cfg, nil, Options{Clock: clock, Sender: &recordingSender{}})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, application.Close()) })

	res := application.Service().TriggerIngest(context.Background())
	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 1, res.Summary.Succeeded)
	require.Len(t, res.Summary.Results, 1)
	assert.Equal(t, "https://news.example.com/revolt", res.Summary.Results[0].Key)

	again := application.Service().TriggerIngest(context.Background())
	require.True(t, again.Success, again.Message)
	assert.Equal(t, 0, again.Summary.Succeeded)

	stats, err := application.Service().Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.PostsLast24h)
}

func TestApplicationRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "memory"
	cfg.Metrics.Addr = "127.0.0.1:0"

	application, err := New(context.Background(), cfg, nil, Options{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := New(context.Background(), cfg, nil, Options{})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestMigrate(t *testing.T) {
	assert.NoError(t, Migrate(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}))
	assert.Error(t, Migrate(context.Background(), config.DatabaseConfig{}))
}

func TestNewWarnsWhenNothingCanBeIngested(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "memory"
	cfg.Sentiment.Provider = "none"
	require.True(t, cfg.Filter.RequireNegative)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))

	application, err := New(context.Background(), cfg, logger, Options{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, application.Close()) })
	assert.Contains(t, logs.String(), "NOTHING WILL BE INGESTED")

	logs.Reset()
	cfg.Filter.RequireNegative = false
	quiet, err := New(context.Background(), cfg, logger, Options{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, quiet.Close()) })
	assert.NotContains(t, logs.String(), "NOTHING WILL BE INGESTED")
}
