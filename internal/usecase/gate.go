package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/metrics"
	"HeadlineBot/internal/ports"
)

// GateConfig holds the posting limits.
type GateConfig struct {
	MaxPostsPerDay int
	MinSpacing     time.Duration
	SendTimeout    time.Duration
}

// GateDeps wires the gate to its store, sender and clock.
type GateDeps struct {
	Store  ports.Store
	Sender ports.Sender
	Clock  clockwork.Clock
	Logger *slog.Logger
	Config GateConfig
}

// Decision explains whether a post may go out right now.
type Decision struct {
	Allowed bool
	Rule    string
	Reason  string
	Ledger  domain.PublicationLedger
}

// PublishStatus is the result of one publish attempt.
type PublishStatus string

const (
	PublishPosted   PublishStatus = "posted"
	PublishFailed   PublishStatus = "failed"
	PublishDeferred PublishStatus = "deferred"
)

// Outcome describes a publish attempt. Deferred outcomes leave the task scheduled.
type Outcome struct {
	Status PublishStatus
	PostID string
	Reason string
	Err    error
}

// completeBackoff lists the waits before each attempt to record a posted outcome.
var completeBackoff = []time.Duration{0, 100 * time.Millisecond, 400 * time.Millisecond}

const (
	refusalDailyMax   = "daily_max"
	refusalSpacing    = "min_spacing"
	refusalStoreError = "store_error"
)

// Gate enforces the daily maximum and minimum spacing and performs the send.
type Gate struct {
	mu     sync.Mutex
	store  ports.Store
	sender ports.Sender
	clock  clockwork.Clock
	logger *slog.Logger
	cfg    GateConfig
}

// NewGate constructs the publication gate.
func NewGate(deps GateDeps) *Gate {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{
		store:  deps.Store,
		sender: deps.Sender,
		clock:  clock,
		logger: logger,
		cfg:    deps.Config,
	}
}

// CanPost reports whether both rate rules currently hold. Store errors are returned and
// must be treated as a refusal.
func (g *Gate) CanPost(ctx context.Context) (bool, error) {
	d, err := g.Decide(ctx)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Decide reads the ledger and evaluates the daily maximum and the minimum spacing.
func (g *Gate) Decide(ctx context.Context) (Decision, error) {
	now := g.clock.Now()
	ledger, err := g.store.Ledger(ctx, now)
	if err != nil {
		return Decision{Rule: refusalStoreError, Reason: "ledger unavailable"}, fmt.Errorf("read ledger: %w", err)
	}

	if ledger.PostedLast24h >= g.cfg.MaxPostsPerDay {
		return Decision{
			Rule:   refusalDailyMax,
			Reason: fmt.Sprintf("daily maximum reached: %d of %d posts in the last 24h", ledger.PostedLast24h, g.cfg.MaxPostsPerDay),
			Ledger: ledger,
		}, nil
	}

	if ledger.LastPostedAt != nil {
		next := ledger.LastPostedAt.Add(g.cfg.MinSpacing)
		if now.Before(next) {
			return Decision{
				Rule:   refusalSpacing,
				Reason: fmt.Sprintf("minimum spacing: next post allowed at %s", next.UTC().Format(time.RFC3339)),
				Ledger: ledger,
			}, nil
		}
	}

	return Decision{Allowed: true, Ledger: ledger}, nil
}

// Publish sends a claimed task if the gate allows it and records the terminal outcome.
// A refusal releases the claim and writes nothing else. The returned error reports store
// failures only; send failures are part of the outcome.
//
// The send marker is written before the first byte goes out. A task that already carries it
// is failed as unconfirmed instead of being sent a second time.
func (g *Gate) Publish(ctx context.Context, task domain.PublicationTask, claimToken string) (Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	logger := g.logger.With("task_id", task.ID, "item_id", task.ItemID)

	if task.SendStartedAt != nil {
		return g.failUnconfirmed(ctx, task, claimToken, logger)
	}

	item, err := g.store.GetItem(ctx, task.ItemID)
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return g.fail(ctx, task, claimToken, domain.ErrItemNotFound, logger)
	case err != nil:
		return g.postpone(ctx, task, claimToken, refusalStoreError, fmt.Errorf("load item: %w", err), logger)
	case item.Posted:
		return g.fail(ctx, task, claimToken, domain.ErrAlreadyPosted, logger)
	}

	decision, err := g.Decide(ctx)
	if err != nil {
		return g.postpone(ctx, task, claimToken, refusalStoreError, err, logger)
	}
	if !decision.Allowed {
		return g.postpone(ctx, task, claimToken, decision.Rule, errors.New(decision.Reason), logger)
	}

	err = g.store.MarkSending(ctx, task.ID, claimToken, g.clock.Now())
	switch {
	case errors.Is(err, domain.ErrSendAttempted):
		return g.failUnconfirmed(ctx, task, claimToken, logger)
	case errors.Is(err, domain.ErrClaimLost):
		return Outcome{}, fmt.Errorf("mark task %s sending: %w", task.ID, err)
	case err != nil:
		return g.postpone(ctx, task, claimToken, refusalStoreError, fmt.Errorf("mark sending: %w", err), logger)
	}

	// One deadline covers the head post and every reply, so the claim lease outlives the thread.
	sendCtx := ctx
	if g.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, g.cfg.SendTimeout)
		defer cancel()
	}

	started := time.Now()
	postID, sendErr := g.sender.Send(sendCtx, task.Text)
	if sendErr != nil {
		metrics.SendDuration.Observe(time.Since(started).Seconds())
		return g.fail(ctx, task, claimToken, sendErr, logger)
	}
	replyErr := g.sendReplies(sendCtx, task.Replies, postID)
	metrics.SendDuration.Observe(time.Since(started).Seconds())

	outcome := domain.TaskOutcome{
		Status:         domain.StatusPosted,
		At:             g.clock.Now(),
		ExternalPostID: postID,
	}
	if replyErr != nil {
		logger.Warn("thread incomplete", "post_id", postID, "error", replyErr)
		outcome.Error = replyErr.Error()
	}

	if err := g.complete(ctx, task.ID, claimToken, outcome); err != nil {
		logger.Error("post sent but outcome not recorded", "post_id", postID, "error", err)
		return Outcome{Status: PublishPosted, PostID: postID}, fmt.Errorf("complete task %s: %w", task.ID, err)
	}

	metrics.PublishOutcomesTotal.WithLabelValues(string(PublishPosted)).Inc()
	logger.Info("post published", "post_id", postID, "replies", len(task.Replies))
	return Outcome{Status: PublishPosted, PostID: postID, Reason: outcome.Error}, nil
}

// sendReplies chains every reply to the one before it, starting at the head post.
func (g *Gate) sendReplies(ctx context.Context, replies []string, headID string) error {
	parent := headID
	for i, text := range replies {
		id, err := g.sender.Reply(ctx, text, parent)
		if err != nil {
			return fmt.Errorf("thread reply %d of %d: %w", i+1, len(replies), err)
		}
		parent = id
	}
	return nil
}

// complete writes a posted outcome, retrying transient store errors. The claim is never
// released after a send; if every attempt fails the task keeps its send marker.
func (g *Gate) complete(ctx context.Context, id, token string, outcome domain.TaskOutcome) error {
	var err error
	for attempt, wait := range completeBackoff {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		}

		err = g.store.CompleteTask(ctx, id, token, outcome)
		if err == nil || !retryableComplete(err) {
			return err
		}
		g.logger.Warn("recording outcome failed, retrying", "task_id", id, "attempt", attempt+1, "error", err)
	}
	return err
}

func retryableComplete(err error) bool {
	return !errors.Is(err, domain.ErrClaimLost) &&
		!errors.Is(err, domain.ErrAlreadyPosted) &&
		!errors.Is(err, domain.ErrInvalidTransition) &&
		!errors.Is(err, domain.ErrTaskNotFound)
}

func (g *Gate) failUnconfirmed(ctx context.Context, task domain.PublicationTask, token string, logger *slog.Logger) (Outcome, error) {
	metrics.PublishOutcomesTotal.WithLabelValues(string(PublishFailed)).Inc()
	logger.Error("earlier send has no recorded outcome, not sending again")

	cause := domain.ErrSendAttempted
	out := Outcome{Status: PublishFailed, Reason: cause.Error(), Err: cause}
	if err := g.store.CompleteTask(ctx, task.ID, token, domain.TaskOutcome{
		Status:      domain.StatusFailed,
		At:          g.clock.Now(),
		Error:       cause.Error(),
		Unconfirmed: true,
	}); err != nil {
		return out, fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	return out, nil
}

func (g *Gate) fail(ctx context.Context, task domain.PublicationTask, token string, cause error, logger *slog.Logger) (Outcome, error) {
	metrics.PublishOutcomesTotal.WithLabelValues(string(PublishFailed)).Inc()
	logger.Warn("publish failed", "error", cause)

	out := Outcome{Status: PublishFailed, Reason: cause.Error(), Err: cause}
	if err := g.store.CompleteTask(ctx, task.ID, token, domain.TaskOutcome{
		Status: domain.StatusFailed,
		At:     g.clock.Now(),
		Error:  cause.Error(),
		// A timed out send may still have reached the platform.
		Unconfirmed: errors.Is(cause, context.DeadlineExceeded),
	}); err != nil {
		return out, fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	return out, nil
}

// postpone releases the claim so the task stays scheduled for a later sweep.
func (g *Gate) postpone(ctx context.Context, task domain.PublicationTask, token, rule string, cause error, logger *slog.Logger) (Outcome, error) {
	metrics.GateRefusalsTotal.WithLabelValues(rule).Inc()
	metrics.PublishOutcomesTotal.WithLabelValues(string(PublishDeferred)).Inc()
	logger.Info("publish deferred", "rule", rule, "reason", cause)

	out := Outcome{Status: PublishDeferred, Reason: cause.Error()}
	if rule == refusalStoreError {
		out.Err = cause
	}
	if err := g.store.ReleaseTask(ctx, task.ID, token); err != nil {
		return out, fmt.Errorf("release task %s: %w", task.ID, err)
	}
	return out, nil
}
