package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/ports"
)

// ServiceDeps collects the sweeps behind the external operations.
type ServiceDeps struct {
	Ingestion *Ingestion
	Planner   *Planner
	Executor  *Executor
	Store     ports.TaskStore
	Items     ports.ItemStore
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// Service is the surface used by the CLI and the periodic triggers. Business outcomes are
// reported in TriggerResult, never as errors.
type Service struct {
	ingestion *Ingestion
	planner   *Planner
	executor  *Executor
	store     ports.TaskStore
	items     ports.ItemStore
	clock     clockwork.Clock
	logger    *slog.Logger
	group     singleflight.Group
}

// NewService constructs the service.
func NewService(deps ServiceDeps) *Service {
	s := &Service{
		ingestion: deps.Ingestion,
		planner:   deps.Planner,
		executor:  deps.Executor,
		store:     deps.Store,
		items:     deps.Items,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// TriggerIngest runs an ingestion sweep. Concurrent callers share the same run.
func (s *Service) TriggerIngest(ctx context.Context) domain.TriggerResult {
	return s.runShared(ctx, domain.ActivityIngest, s.ingestion.Ingest)
}

// TriggerPlan runs the daily planner.
func (s *Service) TriggerPlan(ctx context.Context) domain.TriggerResult {
	return s.runShared(ctx, domain.ActivityPlan, s.planner.PlanDay)
}

// TriggerExecute runs an execution sweep.
func (s *Service) TriggerExecute(ctx context.Context) domain.TriggerResult {
	return s.runShared(ctx, domain.ActivityExecute, s.executor.Execute)
}

// PostNow publishes one stored item, by id or URL, immediately and subject to the gate.
func (s *Service) PostNow(ctx context.Context, ref, commentary string) domain.TriggerResult {
	res := s.executor.PostNow(ctx, ref, commentary)
	s.logger.Info("manual post", "item", ref, "thread", commentary != "", "success", res.Success, "message", res.Message)
	return res
}

// Items lists stored items, newest first.
func (s *Service) Items(ctx context.Context, query domain.ItemQuery) ([]domain.StoredItem, error) {
	items, err := s.items.ListItems(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// Queue lists pending and scheduled tasks by scheduled time.
func (s *Service) Queue(ctx context.Context) ([]domain.PublicationTask, error) {
	tasks, err := s.store.Queue(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return tasks, nil
}

// Stats reports recent publication activity.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	ledger, err := s.store.Ledger(ctx, s.clock.Now())
	if err != nil {
		return domain.Stats{}, fmt.Errorf("load ledger: %w", err)
	}
	return domain.Stats{PostsLast24h: ledger.PostedLast24h, LastPostedAt: ledger.LastPostedAt}, nil
}

func (s *Service) runShared(ctx context.Context, activity domain.Activity, run func(context.Context) (*domain.BatchSummary, error)) domain.TriggerResult {
	v, err, shared := s.group.Do(string(activity), func() (any, error) {
		return run(ctx)
	})
	if err != nil {
		s.logger.Error("sweep failed", "activity", activity, "error", err)
		return domain.TriggerResult{Message: fmt.Sprintf("%s failed: %v", activity, err)}
	}

	summary := v.(*domain.BatchSummary)
	if shared {
		s.logger.Debug("joined running sweep", "activity", activity)
	}
	return domain.TriggerResult{
		Success: !summary.Aborted,
		Message: summary.String(),
		Summary: summary,
	}
}
