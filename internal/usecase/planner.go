package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/formatter"
	"HeadlineBot/internal/ports"
)

// Renderer turns a scored item into post text.
type Renderer interface {
	FormatScored(scored domain.ScoredItem, opener string) formatter.FormattedPost
	// Thread renders the item post followed by commentary replies.
	Thread(scored domain.ScoredItem, commentary string) []formatter.FormattedPost
}

// PlannerConfig holds the daily quota and posting windows.
type PlannerConfig struct {
	PostsPerDay int
	Threshold   float64
	PeakWindows []domain.HourWindow
	Location    *time.Location
}

// PlannerDeps wires the daily planner.
type PlannerDeps struct {
	Store    ports.Store
	Renderer Renderer
	Rand     formatter.RandSource
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Config   PlannerConfig
}

// Planner assigns today's best candidates to randomized peak-hour slots.
type Planner struct {
	store    ports.Store
	renderer Renderer
	clock    clockwork.Clock
	logger   *slog.Logger
	cfg      PlannerConfig

	mu  sync.Mutex
	rng formatter.RandSource
}

// NewPlanner constructs the daily planner.
func NewPlanner(deps PlannerDeps) *Planner {
	p := &Planner{
		store:    deps.Store,
		renderer: deps.Renderer,
		clock:    deps.Clock,
		logger:   deps.Logger,
		cfg:      deps.Config,
		rng:      deps.Rand,
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if p.cfg.Location == nil {
		p.cfg.Location = time.UTC
	}
	return p
}

// PlanDay schedules unplanned negative items, most negative first, until the day holds
// PostsPerDay tasks. Tasks already created today, manual posts included, count against the
// quota, so a repeated run only fills the gap.
func (p *Planner) PlanDay(ctx context.Context) (*domain.BatchSummary, error) {
	now := p.clock.Now().In(p.cfg.Location)
	summary := domain.NewBatchSummary(domain.ActivityPlan, now)

	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, p.cfg.Location)
	planned, err := p.store.CountCreated(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("count planned tasks: %w", err)
	}

	quota := p.cfg.PostsPerDay - planned
	if quota <= 0 {
		p.logger.Info("daily quota already planned", "planned", planned, "posts_per_day", p.cfg.PostsPerDay)
		return p.finish(summary), nil
	}

	items, err := p.store.ListPlannable(ctx, p.cfg.Threshold, quota)
	if err != nil {
		return nil, fmt.Errorf("list plannable items: %w", err)
	}

	if len(items) == 0 {
		p.logger.Info("nothing to plan")
		return p.finish(summary), nil
	}

	p.mu.Lock()
	slots := GenerateSlots(now, len(items), p.cfg.PeakWindows, p.rng)
	p.mu.Unlock()

	if len(slots) < len(items) {
		p.logger.Warn("not enough slots for plannable items", "items", len(items), "slots", len(slots))
	}

	for i, slot := range slots {
		if ctx.Err() != nil {
			summary.Aborted = true
			break
		}

		item := items[i]
		post := p.renderer.FormatScored(domain.ScoredItem{
			Item:           item.Item,
			SentimentScore: item.SentimentScore,
		}, "")

		task := domain.PublicationTask{
			ID:           uuid.NewString(),
			ItemID:       item.ID,
			Text:         post.Text,
			ScheduledFor: slot.UTC(),
			Status:       domain.StatusScheduled,
			CreatedAt:    now.UTC(),
		}

		err := p.store.CreateTask(context.WithoutCancel(ctx), task)
		if errors.Is(err, domain.ErrOpenTaskExists) {
			summary.Record(item.ID, domain.OutcomeSkipped, "already planned")
			continue
		}
		if err != nil {
			p.logger.Warn("create task failed", "item_id", item.ID, "error", err)
			summary.Record(item.ID, domain.OutcomeFailed, err.Error())
			continue
		}
		summary.Record(item.ID, domain.OutcomeSucceeded, "scheduled for "+slot.Format(time.RFC3339))
	}

	return p.finish(summary), nil
}

func (p *Planner) finish(summary *domain.BatchSummary) *domain.BatchSummary {
	summary.FinishedAt = p.clock.Now().In(p.cfg.Location)
	observeSweep(p.logger, summary)
	return summary
}

// GenerateSlots picks n posting times inside the windows on now's local date.
//
// Hours are drawn without replacement from the flattened windows; when n exceeds the
// number of available hours the hour list is repeated as often as needed. Each slot gets
// a random minute, and a slot already in the past moves to the same time tomorrow.
// The result is sorted ascending.
func GenerateSlots(now time.Time, n int, windows []domain.HourWindow, rng formatter.RandSource) []time.Time {
	if n <= 0 {
		return nil
	}

	var hours []int
	for _, w := range windows {
		hours = append(hours, w.Hours()...)
	}
	if len(hours) == 0 {
		return nil
	}

	pool := hours
	if n > len(hours) {
		repeats := (n + len(hours) - 1) / len(hours)
		pool = make([]int, 0, repeats*len(hours))
		for i := 0; i < repeats; i++ {
			pool = append(pool, hours...)
		}
	} else {
		pool = append([]int(nil), hours...)
	}

	// Partial Fisher-Yates: the first n entries become a uniform sample.
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	picked := pool[:n]
	sort.Ints(picked)

	year, month, day := now.Date()
	slots := make([]time.Time, 0, n)
	for _, hour := range picked {
		slot := time.Date(year, month, day, hour, rng.Intn(60), 0, 0, now.Location())
		if slot.Before(now) {
			slot = slot.AddDate(0, 0, 1)
		}
		slots = append(slots, slot)
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots
}
