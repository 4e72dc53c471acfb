package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/filter"
	"HeadlineBot/internal/formatter"
	"HeadlineBot/internal/ports"
)

// ExecutorConfig bounds a single execution sweep.
type ExecutorConfig struct {
	ClaimLease time.Duration
	BatchSize  int
}

// ExecutorDeps wires the execution sweep.
type ExecutorDeps struct {
	Store    ports.Store
	Gate     *Gate
	Renderer Renderer
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Config   ExecutorConfig
}

// Executor publishes due tasks through the gate.
type Executor struct {
	store    ports.Store
	gate     *Gate
	renderer Renderer
	clock    clockwork.Clock
	logger   *slog.Logger
	cfg      ExecutorConfig
}

// NewExecutor constructs the execution sweep.
func NewExecutor(deps ExecutorDeps) *Executor {
	e := &Executor{
		store:    deps.Store,
		gate:     deps.Gate,
		renderer: deps.Renderer,
		clock:    deps.Clock,
		logger:   deps.Logger,
		cfg:      deps.Config,
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.cfg.ClaimLease <= 0 {
		e.cfg.ClaimLease = 5 * time.Minute
	}
	if e.cfg.BatchSize <= 0 {
		e.cfg.BatchSize = 50
	}
	return e
}

// Execute publishes due tasks oldest first. It stops at the first gate refusal and leaves
// the rest scheduled for the next sweep.
func (e *Executor) Execute(ctx context.Context) (*domain.BatchSummary, error) {
	now := e.clock.Now()
	summary := domain.NewBatchSummary(domain.ActivityExecute, now)

	tasks, err := e.store.DueTasks(ctx, now, e.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}

	for i, task := range tasks {
		if ctx.Err() != nil {
			summary.Aborted = true
			break
		}

		outcome, err := e.claimAndPublish(context.WithoutCancel(ctx), task)
		switch {
		case errors.Is(err, domain.ErrClaimLost):
			summary.Record(task.ID, domain.OutcomeSkipped, "claimed by another sweep")
			continue
		case err != nil:
			e.logger.Warn("task execution failed", "task_id", task.ID, "error", err)
			summary.Record(task.ID, domain.OutcomeFailed, err.Error())
			continue
		}

		switch outcome.Status {
		case PublishPosted:
			summary.Record(task.ID, domain.OutcomeSucceeded, outcome.PostID)
		case PublishFailed:
			summary.Record(task.ID, domain.OutcomeFailed, outcome.Reason)
		case PublishDeferred:
			summary.Record(task.ID, domain.OutcomeSkipped, outcome.Reason)
			if remaining := len(tasks) - i - 1; remaining > 0 {
				e.logger.Info("gate refused, leaving remaining tasks scheduled", "remaining", remaining)
			}
			return e.finish(summary), nil
		}
	}

	return e.finish(summary), nil
}

// PostNow publishes a stored item immediately through the same claim and gate path as the
// sweep. ref is an item id or the item's URL. Non-empty commentary is posted as a reply
// thread under the headline. An item that is already planned has its task moved to now
// instead of getting a second one. A refusal leaves the task queued.
func (e *Executor) PostNow(ctx context.Context, ref, commentary string) domain.TriggerResult {
	item, err := e.resolveItem(ctx, ref)
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return domain.TriggerResult{Message: domain.ErrItemNotFound.Error()}
	case err != nil:
		return domain.TriggerResult{Message: fmt.Sprintf("load item: %v", err)}
	case item.Posted:
		return domain.TriggerResult{Message: domain.ErrAlreadyPosted.Error()}
	}

	posts := e.renderer.Thread(domain.ScoredItem{Item: item.Item, SentimentScore: item.SentimentScore}, commentary)
	now := e.clock.Now()
	task := domain.PublicationTask{
		ID:           uuid.NewString(),
		ItemID:       item.ID,
		Text:         posts[0].Text,
		Replies:      replyTexts(posts[1:]),
		ScheduledFor: now,
		Status:       domain.StatusPending,
		CreatedAt:    now,
	}

	err = e.store.CreateTask(ctx, task)
	switch {
	case errors.Is(err, domain.ErrOpenTaskExists):
		if strings.TrimSpace(commentary) != "" {
			return domain.TriggerResult{Message: "item is already planned; commentary can only go with a new post"}
		}
		task, err = e.advanceOpenTask(ctx, item.ID, now)
		if err != nil {
			return domain.TriggerResult{Message: err.Error()}
		}
	case err != nil:
		return domain.TriggerResult{Message: fmt.Sprintf("create task: %v", err)}
	default:
		if err := e.store.PromoteTask(ctx, task.ID, now); err != nil {
			return domain.TriggerResult{Message: fmt.Sprintf("schedule task: %v", err), TaskID: task.ID}
		}
		task.Status = domain.StatusScheduled
	}

	outcome, err := e.claimAndPublish(context.WithoutCancel(ctx), task)
	result := domain.TriggerResult{TaskID: task.ID}
	switch {
	case errors.Is(err, domain.ErrClaimLost):
		result.Message = "queued: task picked up by a running sweep"
	case err != nil:
		result.Message = err.Error()
	case outcome.Status == PublishPosted:
		result.Success = true
		result.PostID = outcome.PostID
		result.Message = "posted"
		if outcome.Reason != "" {
			result.Message = "posted, " + outcome.Reason
		}
	case outcome.Status == PublishFailed:
		result.Message = "send failed: " + outcome.Reason
	default:
		result.Message = "queued: " + outcome.Reason
	}
	return result
}

func (e *Executor) resolveItem(ctx context.Context, ref string) (domain.StoredItem, error) {
	ref = strings.TrimSpace(ref)
	if lower := strings.ToLower(ref); strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return e.store.GetItemByURL(ctx, filter.NormalizeURL(ref))
	}
	return e.store.GetItem(ctx, ref)
}

// advanceOpenTask finds the item's pending or scheduled task and makes it due now.
func (e *Executor) advanceOpenTask(ctx context.Context, itemID string, now time.Time) (domain.PublicationTask, error) {
	queue, err := e.store.Queue(ctx)
	if err != nil {
		return domain.PublicationTask{}, fmt.Errorf("load queue: %w", err)
	}

	for _, task := range queue {
		if task.ItemID != itemID {
			continue
		}
		if task.Status == domain.StatusPending {
			err = e.store.PromoteTask(ctx, task.ID, now)
		} else {
			err = e.store.RescheduleTask(ctx, task.ID, now)
		}
		if err != nil {
			return domain.PublicationTask{}, fmt.Errorf("move task %s to now: %w", task.ID, err)
		}
		task.Status = domain.StatusScheduled
		task.ScheduledFor = now
		return task, nil
	}
	return domain.PublicationTask{}, fmt.Errorf("open task for item %s disappeared", itemID)
}

func replyTexts(posts []formatter.FormattedPost) []string {
	if len(posts) == 0 {
		return nil
	}
	texts := make([]string, len(posts))
	for i, p := range posts {
		texts[i] = p.Text
	}
	return texts
}

func (e *Executor) claimAndPublish(ctx context.Context, task domain.PublicationTask) (Outcome, error) {
	token := uuid.NewString()
	now := e.clock.Now()

	claimed, err := e.store.ClaimTask(ctx, task.ID, token, now, now.Add(e.cfg.ClaimLease))
	if err != nil {
		return Outcome{}, fmt.Errorf("claim task %s: %w", task.ID, err)
	}
	if !claimed {
		return Outcome{}, domain.ErrClaimLost
	}

	return e.gate.Publish(ctx, task, token)
}

func (e *Executor) finish(summary *domain.BatchSummary) *domain.BatchSummary {
	summary.FinishedAt = e.clock.Now()
	observeSweep(e.logger, summary)
	return summary
}
