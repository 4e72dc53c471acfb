package domain

import "time"

// TaskStatus enumerates the publication task lifecycle.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusScheduled TaskStatus = "scheduled"
	StatusPosted    TaskStatus = "posted"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == StatusPosted || s == StatusFailed
}

// CanTransition reports whether s -> next is a legal move of the task state machine.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusScheduled
	case StatusScheduled:
		return next == StatusPosted || next == StatusFailed
	default:
		return false
	}
}

// PublicationTask is the schedulable unit: render an item and eventually send it.
type PublicationTask struct {
	ID             string     `json:"id"`
	ItemID         string     `json:"item_id"`
	Text           string     `json:"text"`
	Replies        []string   `json:"replies,omitempty"`
	ScheduledFor   time.Time  `json:"scheduled_for"`
	Status         TaskStatus `json:"status"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	ExternalPostID string     `json:"external_post_id,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	SendStartedAt  *time.Time `json:"send_started_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TaskOutcome is the terminal result written when a claimed task completes.
type TaskOutcome struct {
	Status         TaskStatus
	At             time.Time
	ExternalPostID string
	Error          string
	// Unconfirmed marks a failure where the post may still have gone out. The send marker
	// is kept and the item is never planned again.
	Unconfirmed bool
}

// PublicationLedger is the derived view the publication gate reads.
type PublicationLedger struct {
	PostedLast24h int
	LastPostedAt  *time.Time
}

// LedgerWindow is the trailing window counted against the daily maximum.
const LedgerWindow = 24 * time.Hour

// HourWindow is an inclusive range of local hours, e.g. {7, 9} covers 07:00 to 09:59.
type HourWindow struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

// Hours lists every hour in the window.
func (w HourWindow) Hours() []int {
	if w.End < w.Start {
		return nil
	}
	hours := make([]int, 0, w.End-w.Start+1)
	for h := w.Start; h <= w.End; h++ {
		hours = append(hours, h)
	}
	return hours
}
