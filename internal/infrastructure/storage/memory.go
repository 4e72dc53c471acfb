package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/ports"
)

type memoryTask struct {
	task         domain.PublicationTask
	claimToken   string
	claimedUntil time.Time
}

// MemoryStore keeps items and tasks in process memory. It honours the same uniqueness,
// claim and transition rules as the SQL store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]domain.StoredItem
	byURL map[string]string
	tasks map[string]*memoryTask
}

var _ ports.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]domain.StoredItem),
		byURL: make(map[string]string),
		tasks: make(map[string]*memoryTask),
	}
}

func (m *MemoryStore) InsertItem(_ context.Context, item domain.StoredItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byURL[item.Item.URL]; ok {
		return false, nil
	}
	if _, ok := m.items[item.ID]; ok {
		return false, fmt.Errorf("insert item %s: duplicate id", item.ID)
	}

	item.IngestedAt = item.IngestedAt.UTC()
	item.Posted = false
	item.PostedAt = nil
	m.items[item.ID] = item
	m.byURL[item.Item.URL] = item.ID
	return true, nil
}

func (m *MemoryStore) KnownURLs(_ context.Context, urls []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[string]bool)
	for _, u := range urls {
		if _, ok := m.byURL[u]; ok {
			known[u] = true
		}
	}
	return known, nil
}

func (m *MemoryStore) GetItem(_ context.Context, id string) (domain.StoredItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return domain.StoredItem{}, domain.ErrItemNotFound
	}
	return item, nil
}

func (m *MemoryStore) GetItemByURL(_ context.Context, url string) (domain.StoredItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byURL[url]
	if !ok {
		return domain.StoredItem{}, domain.ErrItemNotFound
	}
	return m.items[id], nil
}

func (m *MemoryStore) ListItems(_ context.Context, query domain.ItemQuery) ([]domain.StoredItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.StoredItem
	for _, item := range m.items {
		if query.UnpostedOnly && item.Posted {
			continue
		}
		out = append(out, item)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.After(out[j].IngestedAt)
		}
		return out[i].ID < out[j].ID
	})

	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListPlannable(_ context.Context, threshold float64, limit int) ([]domain.StoredItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open := make(map[string]bool)
	for _, t := range m.tasks {
		if !t.task.Status.Terminal() || (t.task.Status == domain.StatusFailed && t.task.SendStartedAt != nil) {
			open[t.task.ItemID] = true
		}
	}

	var out []domain.StoredItem
	for _, item := range m.items {
		if item.Posted || item.SentimentScore >= threshold || open[item.ID] {
			continue
		}
		out = append(out, item)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SentimentScore != out[j].SentimentScore {
			return out[i].SentimentScore < out[j].SentimentScore
		}
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.Before(out[j].IngestedAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateTask(_ context.Context, task domain.PublicationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if task.Status != domain.StatusPending && task.Status != domain.StatusScheduled {
		return fmt.Errorf("create task with status %q: %w", task.Status, domain.ErrInvalidTransition)
	}
	if _, ok := m.items[task.ItemID]; !ok {
		return fmt.Errorf("create task for item %s: %w", task.ItemID, domain.ErrItemNotFound)
	}
	if _, ok := m.tasks[task.ID]; ok {
		return fmt.Errorf("create task %s: duplicate id", task.ID)
	}
	for _, t := range m.tasks {
		if t.task.ItemID == task.ItemID && !t.task.Status.Terminal() {
			return fmt.Errorf("create task for item %s: %w", task.ItemID, domain.ErrOpenTaskExists)
		}
	}

	task.Replies = append([]string(nil), task.Replies...)
	task.SendStartedAt = nil
	task.ScheduledFor = task.ScheduledFor.UTC()
	task.CreatedAt = task.CreatedAt.UTC()
	m.tasks[task.ID] = &memoryTask{task: task}
	return nil
}

func (m *MemoryStore) PromoteTask(_ context.Context, id string, scheduledFor time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if !t.task.Status.CanTransition(domain.StatusScheduled) {
		return fmt.Errorf("promote task %s from %s: %w", id, t.task.Status, domain.ErrInvalidTransition)
	}
	t.task.Status = domain.StatusScheduled
	t.task.ScheduledFor = scheduledFor.UTC()
	return nil
}

func (m *MemoryStore) RescheduleTask(_ context.Context, id string, scheduledFor time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.task.Status != domain.StatusScheduled {
		return fmt.Errorf("reschedule task %s in %s: %w", id, t.task.Status, domain.ErrInvalidTransition)
	}
	t.task.ScheduledFor = scheduledFor.UTC()
	return nil
}

func (m *MemoryStore) DueTasks(_ context.Context, now time.Time, limit int) ([]domain.PublicationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.PublicationTask
	for _, t := range m.tasks {
		if t.task.Status == domain.StatusScheduled && !t.task.ScheduledFor.After(now) {
			out = append(out, t.task)
		}
	}
	sortTasks(out)

	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ClaimTask(_ context.Context, id, token string, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return false, domain.ErrTaskNotFound
	}
	if t.task.Status != domain.StatusScheduled {
		return false, nil
	}
	if t.claimToken != "" && !t.claimedUntil.Before(now) {
		return false, nil
	}
	t.claimToken = token
	t.claimedUntil = until.UTC()
	return true, nil
}

func (m *MemoryStore) ReleaseTask(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.claimToken != token {
		return domain.ErrClaimLost
	}
	t.claimToken = ""
	t.claimedUntil = time.Time{}
	return nil
}

func (m *MemoryStore) MarkSending(_ context.Context, id, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.claimToken != token || t.task.Status != domain.StatusScheduled {
		return domain.ErrClaimLost
	}
	if t.task.SendStartedAt != nil {
		return domain.ErrSendAttempted
	}
	at = at.UTC()
	t.task.SendStartedAt = &at
	return nil
}

func (m *MemoryStore) CompleteTask(_ context.Context, id, token string, outcome domain.TaskOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.claimToken != token {
		return domain.ErrClaimLost
	}
	if !t.task.Status.CanTransition(outcome.Status) {
		return fmt.Errorf("complete task %s from %s to %s: %w", id, t.task.Status, outcome.Status, domain.ErrInvalidTransition)
	}

	at := outcome.At.UTC()
	if outcome.Status == domain.StatusPosted {
		item, ok := m.items[t.task.ItemID]
		if !ok {
			return domain.ErrItemNotFound
		}
		if item.Posted {
			return domain.ErrAlreadyPosted
		}
		item.Posted = true
		item.PostedAt = &at
		m.items[item.ID] = item
		t.task.PostedAt = &at
	}

	if outcome.Status == domain.StatusFailed && !outcome.Unconfirmed {
		t.task.SendStartedAt = nil
	}
	t.task.Status = outcome.Status
	t.task.ExternalPostID = outcome.ExternalPostID
	t.task.LastError = outcome.Error
	t.claimToken = ""
	t.claimedUntil = time.Time{}
	return nil
}

func (m *MemoryStore) Queue(_ context.Context) ([]domain.PublicationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.PublicationTask
	for _, t := range m.tasks {
		if !t.task.Status.Terminal() {
			out = append(out, t.task)
		}
	}
	sortTasks(out)
	return out, nil
}

func (m *MemoryStore) CountCreated(_ context.Context, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.tasks {
		if !t.task.CreatedAt.Before(from) && t.task.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ledger(_ context.Context, now time.Time) (domain.PublicationLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ledger domain.PublicationLedger
	since := now.Add(-domain.LedgerWindow)
	for _, t := range m.tasks {
		if t.task.Status != domain.StatusPosted || t.task.PostedAt == nil {
			continue
		}
		at := *t.task.PostedAt
		if at.After(since) {
			ledger.PostedLast24h++
		}
		if ledger.LastPostedAt == nil || at.After(*ledger.LastPostedAt) {
			last := at
			ledger.LastPostedAt = &last
		}
	}
	return ledger, nil
}

// Task returns a task by id, for inspection.
func (m *MemoryStore) Task(id string) (domain.PublicationTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return domain.PublicationTask{}, false
	}
	return t.task, true
}

func sortTasks(tasks []domain.PublicationTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].ScheduledFor.Equal(tasks[j].ScheduledFor) {
			return tasks[i].ScheduledFor.Before(tasks[j].ScheduledFor)
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
