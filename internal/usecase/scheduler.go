package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/ports"
)

// Triggers are the drivers for the three periodic activities. A nil trigger disables its
// activity.
type Triggers struct {
	Ingest  ports.Trigger
	Plan    ports.Trigger
	Execute ports.Trigger
}

// Scheduler wires the triggers with the service sweeps.
type Scheduler struct {
	triggers Triggers
	service  *Service
	logger   *slog.Logger
	started  []ports.Trigger
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(triggers Triggers, service *Service, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{triggers: triggers, service: service, logger: logger}
}

// Start registers the sweeps with their triggers. If one trigger fails to start the ones
// already running are stopped again.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.service == nil {
		return nil
	}

	jobs := []struct {
		activity domain.Activity
		trigger  ports.Trigger
		run      func(context.Context) domain.TriggerResult
	}{
		{domain.ActivityIngest, s.triggers.Ingest, s.service.TriggerIngest},
		{domain.ActivityPlan, s.triggers.Plan, s.service.TriggerPlan},
		{domain.ActivityExecute, s.triggers.Execute, s.service.TriggerExecute},
	}

	for _, j := range jobs {
		if j.trigger == nil {
			continue
		}
		if err := j.trigger.Start(ctx, s.job(j.activity, j.run)); err != nil {
			stopErr := s.Stop(context.WithoutCancel(ctx))
			return errors.Join(fmt.Errorf("start %s trigger: %w", j.activity, err), stopErr)
		}
		s.started = append(s.started, j.trigger)
	}

	return nil
}

// Stop tears down every started trigger and waits for in-flight jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	var errs []error
	for _, t := range s.started {
		if err := t.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.started = nil
	return errors.Join(errs...)
}

func (s *Scheduler) job(activity domain.Activity, run func(context.Context) domain.TriggerResult) func(context.Context, time.Time) {
	logger := s.logger.With("activity", activity)
	return func(ctx context.Context, fired time.Time) {
		res := run(ctx)
		if !res.Success {
			logger.Warn("scheduled run did not succeed", "fired_at", fired, "message", res.Message)
			return
		}
		logger.Debug("scheduled run done", "fired_at", fired, "message", res.Message)
	}
}
