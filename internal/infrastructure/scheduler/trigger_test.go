package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, time.March, 10, 5, 30, 0, 0, time.UTC)

func waitFired(t *testing.T, fired <-chan time.Time) time.Time {
	t.Helper()
	select {
	case at := <-fired:
		return at
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
		return time.Time{}
	}
}

func TestIntervalTrigger_FiresEveryInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(start)
	trigger := NewIntervalTrigger(clock, 30*time.Minute, false)

	fired := make(chan time.Time, 4)
	require.NoError(t, trigger.Start(ctx, func(_ context.Context, at time.Time) { fired <- at }))

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Minute)
	assert.Equal(t, start.Add(30*time.Minute), waitFired(t, fired))

	clock.Advance(30 * time.Minute)
	assert.Equal(t, start.Add(time.Hour), waitFired(t, fired))

	require.NoError(t, trigger.Stop(ctx))
}

func TestIntervalTrigger_RunOnStart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(start)
	trigger := NewIntervalTrigger(clock, time.Hour, true)

	fired := make(chan time.Time, 1)
	require.NoError(t, trigger.Start(ctx, func(_ context.Context, at time.Time) { fired <- at }))

	assert.Equal(t, start, waitFired(t, fired))
	require.NoError(t, trigger.Stop(ctx))
}

func TestIntervalTrigger_StartTwiceFails(t *testing.T) {
	ctx := context.Background()
	trigger := NewIntervalTrigger(clockwork.NewFakeClockAt(start), time.Hour, false)
	job := func(context.Context, time.Time) {}

	require.NoError(t, trigger.Start(ctx, job))
	assert.ErrorIs(t, trigger.Start(ctx, job), errAlreadyStarted)
	require.NoError(t, trigger.Stop(ctx))
	assert.NoError(t, trigger.Stop(ctx), "stopping twice is a no-op")
}

func TestIntervalTrigger_RejectsNonPositiveInterval(t *testing.T) {
	trigger := NewIntervalTrigger(clockwork.NewFakeClockAt(start), 0, false)
	assert.Error(t, trigger.Start(context.Background(), func(context.Context, time.Time) {}))
}

func TestStop_WaitsForInFlightJob(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(start)
	trigger := NewIntervalTrigger(clock, time.Hour, true)

	entered := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	require.NoError(t, trigger.Start(ctx, func(context.Context, time.Time) {
		close(entered)
		<-release
		close(finished)
	}))
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- trigger.Stop(ctx) }()

	select {
	case <-stopped:
		t.Fatal("stop returned while the job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	select {
	case <-finished:
	default:
		t.Fatal("job did not finish before stop returned")
	}
}

func TestStop_BoundedByContext(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	trigger := NewIntervalTrigger(clock, time.Hour, true)

	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, trigger.Start(context.Background(), func(context.Context, time.Time) {
		close(entered)
		<-release
	}))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, trigger.Stop(ctx), context.DeadlineExceeded)
}

func TestDailyTrigger_FiresAtLocalTime(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(start)
	trigger := NewDailyTrigger(clock, 6, 0, london)

	fired := make(chan time.Time, 2)
	require.NoError(t, trigger.Start(ctx, func(_ context.Context, at time.Time) { fired <- at }))

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Minute)
	first := waitFired(t, fired)
	assert.Equal(t, 6, first.In(london).Hour())

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(24 * time.Hour)
	second := waitFired(t, fired)
	assert.Equal(t, 24*time.Hour, second.Sub(first))

	require.NoError(t, trigger.Stop(ctx))
}

func TestNextDailyRun(t *testing.T) {
	loc := time.UTC

	before := time.Date(2026, time.March, 10, 5, 59, 0, 0, loc)
	assert.Equal(t, time.Date(2026, time.March, 10, 6, 0, 0, 0, loc), NextDailyRun(before, 6, 0, loc))

	exactly := time.Date(2026, time.March, 10, 6, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, time.March, 11, 6, 0, 0, 0, loc), NextDailyRun(exactly, 6, 0, loc))

	after := time.Date(2026, time.March, 10, 23, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, time.March, 11, 6, 0, 0, 0, loc), NextDailyRun(after, 6, 0, loc))
}
