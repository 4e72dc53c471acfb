package domain

import (
	"fmt"
	"time"
)

// Activity names one of the periodic jobs.
type Activity string

const (
	ActivityIngest  Activity = "ingest"
	ActivityPlan    Activity = "plan"
	ActivityExecute Activity = "execute"
)

// ResultOutcome classifies the fate of one unit of work inside a batch.
type ResultOutcome string

const (
	OutcomeSucceeded ResultOutcome = "succeeded"
	OutcomeFailed    ResultOutcome = "failed"
	OutcomeSkipped   ResultOutcome = "skipped"
)

// ItemResult records what happened to a single source, item or task.
type ItemResult struct {
	Key     string        `json:"key"`
	Outcome ResultOutcome `json:"outcome"`
	Reason  string        `json:"reason,omitempty"`
}

// BatchSummary aggregates per-item results so failure isolation stays visible.
type BatchSummary struct {
	Activity   Activity     `json:"activity"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Aborted    bool         `json:"aborted"`
	Results    []ItemResult `json:"results,omitempty"`
}

// NewBatchSummary starts a summary for the given activity.
func NewBatchSummary(activity Activity, startedAt time.Time) *BatchSummary {
	return &BatchSummary{Activity: activity, StartedAt: startedAt}
}

// Record appends a result and bumps the matching counter.
func (b *BatchSummary) Record(key string, outcome ResultOutcome, reason string) {
	switch outcome {
	case OutcomeSucceeded:
		b.Succeeded++
	case OutcomeFailed:
		b.Failed++
	case OutcomeSkipped:
		b.Skipped++
	}
	b.Results = append(b.Results, ItemResult{Key: key, Outcome: outcome, Reason: reason})
}

// String renders the one-line summary used in logs and trigger results.
func (b *BatchSummary) String() string {
	s := fmt.Sprintf("%s: %d succeeded, %d failed, %d skipped", b.Activity, b.Succeeded, b.Failed, b.Skipped)
	if b.Aborted {
		s += " (aborted)"
	}
	return s
}

// TriggerResult is returned to manual callers instead of an error.
type TriggerResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	TaskID  string        `json:"task_id,omitempty"`
	PostID  string        `json:"post_id,omitempty"`
	Summary *BatchSummary `json:"summary,omitempty"`
}

// Stats is the read-only view exposed to operators.
type Stats struct {
	PostsLast24h int        `json:"posts_last_24h"`
	LastPostedAt *time.Time `json:"last_posted_at,omitempty"`
}
