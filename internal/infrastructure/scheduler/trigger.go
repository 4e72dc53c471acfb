package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"HeadlineBot/internal/ports"
)

var errAlreadyStarted = errors.New("trigger already started")

// loop owns the goroutine lifecycle shared by the triggers.
type loop struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) start(ctx context.Context, run func(ctx context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return errAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done

	go func() {
		defer close(done)
		run(runCtx)
	}()
	return nil
}

// stop cancels the loop and waits for the running job, bounded by ctx.
func (l *loop) stop(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IntervalTrigger fires a job every interval.
type IntervalTrigger struct {
	clock      clockwork.Clock
	interval   time.Duration
	runOnStart bool
	loop       loop
}

var _ ports.Trigger = (*IntervalTrigger)(nil)

// NewIntervalTrigger builds a trigger firing every interval; runOnStart also fires once
// right after Start.
func NewIntervalTrigger(clock clockwork.Clock, interval time.Duration, runOnStart bool) *IntervalTrigger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IntervalTrigger{clock: clock, interval: interval, runOnStart: runOnStart}
}

// Start begins ticking.
func (t *IntervalTrigger) Start(ctx context.Context, job func(context.Context, time.Time)) error {
	if job == nil {
		return nil
	}
	if t.interval <= 0 {
		return errors.New("interval must be positive")
	}

	return t.loop.start(ctx, func(ctx context.Context) {
		ticker := t.clock.NewTicker(t.interval)
		defer ticker.Stop()

		if t.runOnStart {
			job(ctx, t.clock.Now())
		}
		for {
			select {
			case fired := <-ticker.Chan():
				job(ctx, fired)
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop halts the ticker goroutine and waits for an in-flight job.
func (t *IntervalTrigger) Stop(ctx context.Context) error {
	return t.loop.stop(ctx)
}

// DailyTrigger fires a job once a day at a fixed local time.
type DailyTrigger struct {
	clock  clockwork.Clock
	hour   int
	minute int
	loc    *time.Location
	loop   loop
}

var _ ports.Trigger = (*DailyTrigger)(nil)

// NewDailyTrigger builds a trigger firing at hour:minute in loc.
func NewDailyTrigger(clock clockwork.Clock, hour, minute int, loc *time.Location) *DailyTrigger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DailyTrigger{clock: clock, hour: hour, minute: minute, loc: loc}
}

// Start waits for each next occurrence and runs the job.
func (t *DailyTrigger) Start(ctx context.Context, job func(context.Context, time.Time)) error {
	if job == nil {
		return nil
	}

	return t.loop.start(ctx, func(ctx context.Context) {
		for {
			now := t.clock.Now()
			timer := t.clock.NewTimer(NextDailyRun(now, t.hour, t.minute, t.loc).Sub(now))
			select {
			case fired := <-timer.Chan():
				job(ctx, fired)
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	})
}

// Stop halts the timer goroutine and waits for an in-flight job.
func (t *DailyTrigger) Stop(ctx context.Context) error {
	return t.loop.stop(ctx)
}

// NextDailyRun returns the first hour:minute in loc strictly after now.
func NextDailyRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
