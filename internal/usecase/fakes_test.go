package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/formatter"
	"HeadlineBot/internal/infrastructure/storage"
)

var testNow = time.Date(2026, time.March, 10, 5, 0, 0, 0, time.UTC)

// fakeSender records what it was asked to send. Replies are recorded as "text <- parent".
type fakeSender struct {
	mu       sync.Mutex
	texts    []string
	replies  []string
	err      error
	replyErr error
	delay    time.Duration
	block    bool
	calls    atomic.Int32
}

func (s *fakeSender) Send(ctx context.Context, text string) (string, error) {
	n := s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return "", s.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return fmt.Sprintf("post-%d", n), nil
}

func (s *fakeSender) Reply(_ context.Context, text, replyTo string) (string, error) {
	n := s.calls.Add(1)
	if s.replyErr != nil {
		return "", s.replyErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, text+" <- "+replyTo)
	return fmt.Sprintf("post-%d", n), nil
}

func (s *fakeSender) replied() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.replies...)
}

func (s *fakeSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type stubRenderer struct{}

func (stubRenderer) FormatScored(scored domain.ScoredItem, _ string) formatter.FormattedPost {
	text := "post: " + scored.Item.Title
	return formatter.FormattedPost{Text: text, CharacterCount: len(text), URL: scored.Item.URL}
}

// Thread splits commentary on "|" into replies.
func (r stubRenderer) Thread(scored domain.ScoredItem, commentary string) []formatter.FormattedPost {
	posts := []formatter.FormattedPost{r.FormatScored(scored, "")}
	if commentary == "" {
		return posts
	}
	for _, part := range strings.Split(commentary, "|") {
		posts = append(posts, formatter.FormattedPost{Text: part, CharacterCount: len(part)})
	}
	return posts
}

// failingLedgerStore breaks the ledger read only.
type failingLedgerStore struct {
	*storage.MemoryStore
}

func (failingLedgerStore) Ledger(context.Context, time.Time) (domain.PublicationLedger, error) {
	return domain.PublicationLedger{}, errors.New("database is locked")
}

type fakeSource struct {
	mu     sync.Mutex
	sites  []string
	items  map[string][]domain.IngestedItem
	errs   map[string]error
	calls  atomic.Int32
	gate   chan struct{}
	called chan struct{}
}

func (s *fakeSource) Sites() []string { return s.sites }

func (s *fakeSource) FetchSite(_ context.Context, site string) ([]domain.IngestedItem, error) {
	s.calls.Add(1)
	if s.called != nil {
		select {
		case s.called <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[site]; err != nil {
		return nil, err
	}
	return s.items[site], nil
}

// keywordFilter keeps items whose title contains "crisis" and scores them -0.6. When
// degraded, every score counts as a neutral fallback.
type keywordFilter struct {
	mu       sync.Mutex
	seen     []string
	degraded bool
	unscored uint64
}

func (f *keywordFilter) Filter(_ context.Context, items []domain.IngestedItem, requireNegative bool) []domain.ScoredItem {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.ScoredItem
	for _, item := range items {
		f.seen = append(f.seen, item.URL)
		if f.degraded {
			f.unscored++
		}
		score := 0.3
		if strings.Contains(strings.ToLower(item.Title), "crisis") {
			score = -0.6
		}
		if requireNegative && score >= -0.2 {
			continue
		}
		out = append(out, domain.ScoredItem{Item: item, SentimentScore: score})
	}
	return out
}

func (f *keywordFilter) Unscored() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unscored
}

func (f *keywordFilter) setDegraded(degraded bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded = degraded
}

func (f *keywordFilter) scored() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

type memorySeen struct {
	mu   sync.Mutex
	urls map[string]bool
}

func newMemorySeen() *memorySeen { return &memorySeen{urls: map[string]bool{}} }

func (c *memorySeen) Seen(_ context.Context, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.urls[url], nil
}

func (c *memorySeen) has(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.urls[url]
}

func (c *memorySeen) Remember(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls[url] = true
	return nil
}

// seedItem stores an unposted item and returns its id.
func seedItem(t *testing.T, store *storage.MemoryStore, id string, score float64) string {
	t.Helper()
	inserted, err := store.InsertItem(context.Background(), domain.StoredItem{
		ID: id,
		Item: domain.IngestedItem{
			Title:  "Headline " + id,
			URL:    "https://news.example.com/" + id,
			Source: "BBC",
		},
		SentimentScore: score,
		IngestedAt:     testNow,
	})
	require.NoError(t, err)
	require.True(t, inserted)
	return id
}

// seedTask creates a scheduled task for itemID due at scheduledFor.
func seedTask(t *testing.T, store *storage.MemoryStore, id, itemID string, scheduledFor time.Time) domain.PublicationTask {
	t.Helper()
	task := domain.PublicationTask{
		ID:           id,
		ItemID:       itemID,
		Text:         "text for " + itemID,
		ScheduledFor: scheduledFor,
		Status:       domain.StatusScheduled,
		CreatedAt:    testNow,
	}
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

// seedPosted records a completed post at the given time.
func seedPosted(t *testing.T, store *storage.MemoryStore, id string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	seedItem(t, store, "posted-"+id, -0.5)
	seedTask(t, store, "posted-task-"+id, "posted-"+id, at)

	ok, err := store.ClaimTask(ctx, "posted-task-"+id, "seed", at, at.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.CompleteTask(ctx, "posted-task-"+id, "seed", domain.TaskOutcome{
		Status:         domain.StatusPosted,
		At:             at,
		ExternalPostID: "seed-" + id,
	}))
}

func claim(t *testing.T, store *storage.MemoryStore, taskID string, now time.Time) string {
	t.Helper()
	token := "token-" + taskID
	ok, err := store.ClaimTask(context.Background(), taskID, token, now, now.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	return token
}

type testEnv struct {
	clock    *clockwork.FakeClock
	store    *storage.MemoryStore
	sender   *fakeSender
	gate     *Gate
	executor *Executor
}

func newTestEnv(t *testing.T, cfg GateConfig) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	store := storage.NewMemoryStore()
	sender := &fakeSender{}
	gate := NewGate(GateDeps{Store: store, Sender: sender, Clock: clock, Config: cfg})
	executor := NewExecutor(ExecutorDeps{
		Store:    store,
		Gate:     gate,
		Renderer: stubRenderer{},
		Clock:    clock,
	})
	return &testEnv{clock: clock, store: store, sender: sender, gate: gate, executor: executor}
}
