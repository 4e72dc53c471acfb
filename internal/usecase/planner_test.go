package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/infrastructure/storage"
)

var peakWindows = []domain.HourWindow{{Start: 7, End: 9}, {Start: 12, End: 13}, {Start: 17, End: 19}}

func inWindows(hour int, windows []domain.HourWindow) bool {
	for _, w := range windows {
		if hour >= w.Start && hour <= w.End {
			return true
		}
	}
	return false
}

func TestGenerateSlots_DistinctHoursInsideWindows(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	slots := GenerateSlots(testNow, 5, peakWindows, rng)

	require.Len(t, slots, 5)
	hours := map[int]bool{}
	for i, slot := range slots {
		assert.True(t, inWindows(slot.Hour(), peakWindows), "hour %d outside windows", slot.Hour())
		assert.False(t, hours[slot.Hour()], "hour %d used twice", slot.Hour())
		hours[slot.Hour()] = true
		assert.Equal(t, testNow.Day(), slot.Day())
		if i > 0 {
			assert.False(t, slot.Before(slots[i-1]), "slots not sorted")
		}
	}
}

func TestGenerateSlots_RepeatsHoursWhenQuotaExceedsWindows(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	windows := []domain.HourWindow{{Start: 7, End: 9}}

	slots := GenerateSlots(testNow, 5, windows, rng)

	require.Len(t, slots, 5)
	perHour := map[int]int{}
	for _, slot := range slots {
		require.True(t, inWindows(slot.Hour(), windows))
		perHour[slot.Hour()]++
	}
	for hour, n := range perHour {
		assert.LessOrEqual(t, n, 2, "hour %d used %d times", hour, n)
	}
}

func TestGenerateSlots_PastSlotsMoveToTomorrow(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	evening := time.Date(2026, time.March, 10, 20, 0, 0, 0, time.UTC)

	slots := GenerateSlots(evening, 3, peakWindows, rng)

	require.Len(t, slots, 3)
	for _, slot := range slots {
		assert.True(t, slot.After(evening))
		assert.Equal(t, 11, slot.Day())
	}
}

func TestGenerateSlots_UsesLocalHours(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	summer := time.Date(2026, time.July, 1, 5, 0, 0, 0, london)

	slots := GenerateSlots(summer, 2, []domain.HourWindow{{Start: 7, End: 8}}, rand.New(rand.NewSource(4)))

	require.Len(t, slots, 2)
	for _, slot := range slots {
		assert.Contains(t, []int{7, 8}, slot.Hour())
		assert.Contains(t, []int{6, 7}, slot.UTC().Hour())
	}
}

func TestGenerateSlots_Degenerate(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	assert.Nil(t, GenerateSlots(testNow, 0, peakWindows, rng))
	assert.Nil(t, GenerateSlots(testNow, 3, nil, rng))
	assert.Nil(t, GenerateSlots(testNow, 3, []domain.HourWindow{{Start: 9, End: 7}}, rng))
}

func newTestPlanner(store *storage.MemoryStore, clock clockwork.Clock, perDay int) *Planner {
	return NewPlanner(PlannerDeps{
		Store:    store,
		Renderer: stubRenderer{},
		Rand:     rand.New(rand.NewSource(42)),
		Clock:    clock,
		Config: PlannerConfig{
			PostsPerDay: perDay,
			Threshold:   -0.2,
			PeakWindows: peakWindows,
		},
	})
}

func TestPlanDay_SchedulesMostNegativeUpToQuota(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(testNow)
	seedItem(t, store, "mild", -0.6)
	seedItem(t, store, "worst", -0.9)
	seedItem(t, store, "bad", -0.8)
	seedItem(t, store, "worse", -0.7)
	seedItem(t, store, "neutral", -0.1)

	planner := newTestPlanner(store, clock, 3)
	summary, err := planner.PlanDay(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)

	queue, err := store.Queue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 3)

	planned := map[string]bool{}
	for _, task := range queue {
		planned[task.ItemID] = true
		assert.Equal(t, domain.StatusScheduled, task.Status)
		assert.Equal(t, "post: Headline "+task.ItemID, task.Text)
		assert.True(t, inWindows(task.ScheduledFor.Hour(), peakWindows))
		assert.Equal(t, time.UTC, task.ScheduledFor.Location())
	}
	assert.Equal(t, map[string]bool{"worst": true, "bad": true, "worse": true}, planned)

	// The day's quota is used up, so a second run adds nothing.
	summary, err = planner.PlanDay(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Succeeded)

	queue, err = store.Queue(context.Background())
	require.NoError(t, err)
	assert.Len(t, queue, 3)

	// Tomorrow the leftover item gets its turn.
	clock.Advance(24 * time.Hour)
	summary, err = planner.PlanDay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, "mild", summary.Results[0].Key)
}

func TestPlanDay_RepeatedRunsKeepTheQuota(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(testNow)
	for i := 0; i < 10; i++ {
		seedItem(t, store, fmt.Sprintf("item-%d", i), -0.3-float64(i)/100)
	}
	planner := newTestPlanner(store, clock, 3)

	first, err := planner.PlanDay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first.Succeeded)

	clock.Advance(2 * time.Hour)
	second, err := planner.PlanDay(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Succeeded)

	queue, err := store.Queue(context.Background())
	require.NoError(t, err)
	assert.Len(t, queue, 3)
}

func TestPlanDay_FillsOnlyTheGap(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(testNow)
	for _, id := range []string{"a", "b", "c", "d"} {
		seedItem(t, store, id, -0.5)
	}
	// A manual post earlier today used one slot of the quota.
	seedPosted(t, store, "manual", testNow.Add(-time.Hour))

	summary, err := newTestPlanner(store, clock, 3).PlanDay(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
}

// staleListStore hands out a plannable list read before another planner created its tasks.
type staleListStore struct {
	*storage.MemoryStore
	stale []domain.StoredItem
}

func (s staleListStore) ListPlannable(context.Context, float64, int) ([]domain.StoredItem, error) {
	return s.stale, nil
}

func TestPlanDay_ConcurrentPlannerCannotDoubleBook(t *testing.T) {
	mem := storage.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(testNow)
	seedItem(t, mem, "a", -0.9)
	seedItem(t, mem, "b", -0.8)

	stale, err := mem.ListPlannable(context.Background(), -0.2, 2)
	require.NoError(t, err)

	// Another process planned item a in the meantime.
	seedTask(t, mem, "other-a", "a", testNow.Add(3*time.Hour))

	planner := NewPlanner(PlannerDeps{
		Store:    staleListStore{MemoryStore: mem, stale: stale},
		Renderer: stubRenderer{},
		Rand:     rand.New(rand.NewSource(7)),
		Clock:    clock,
		Config:   PlannerConfig{PostsPerDay: 5, Threshold: -0.2, PeakWindows: peakWindows},
	})
	summary, err := planner.PlanDay(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Failed)

	queue, err := mem.Queue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 2)
	perItem := map[string]int{}
	for _, task := range queue {
		perItem[task.ItemID]++
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, perItem)
}

func TestPlanDay_NothingToPlan(t *testing.T) {
	store := storage.NewMemoryStore()
	seedItem(t, store, "neutral", 0.4)

	summary, err := newTestPlanner(store, clockwork.NewFakeClockAt(testNow), 3).PlanDay(context.Background())

	require.NoError(t, err)
	assert.Zero(t, summary.Succeeded)
	assert.Empty(t, summary.Results)
	assert.False(t, summary.Aborted)
}

func TestPlanDay_SkipsPostedItems(t *testing.T) {
	store := storage.NewMemoryStore()
	seedPosted(t, store, "old", testNow.Add(-time.Hour))

	summary, err := newTestPlanner(store, clockwork.NewFakeClockAt(testNow), 3).PlanDay(context.Background())

	require.NoError(t, err)
	assert.Zero(t, summary.Succeeded)
}
