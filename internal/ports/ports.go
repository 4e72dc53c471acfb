package ports

import (
	"context"
	"time"

	"HeadlineBot/internal/domain"
)

// ItemSource pulls fresh items from every configured upstream site.
type ItemSource interface {
	Sites() []string
	FetchSite(ctx context.Context, site string) ([]domain.IngestedItem, error)
}

// SentimentFunc is the black-box polarity estimator returning a compound score in [-1, 1].
type SentimentFunc interface {
	Compound(ctx context.Context, text string) (float64, error)
}

// Sender delivers rendered text to the posting platform.
type Sender interface {
	Send(ctx context.Context, text string) (postID string, err error)
	// Reply posts text as an answer to an earlier post, continuing a thread.
	Reply(ctx context.Context, text, replyTo string) (postID string, err error)
}

// ItemStore persists ingested items keyed by unique URL.
type ItemStore interface {
	// InsertItem stores the item and reports false when the URL is already known.
	InsertItem(ctx context.Context, item domain.StoredItem) (bool, error)
	KnownURLs(ctx context.Context, urls []string) (map[string]bool, error)
	GetItem(ctx context.Context, id string) (domain.StoredItem, error)
	// ListPlannable returns unposted items below threshold without an open task, most negative first.
	ListPlannable(ctx context.Context, threshold float64, limit int) ([]domain.StoredItem, error)
	// ListItems returns the most recently ingested items first.
	ListItems(ctx context.Context, query domain.ItemQuery) ([]domain.StoredItem, error)
	GetItemByURL(ctx context.Context, url string) (domain.StoredItem, error)
}

// TaskStore persists publication tasks and guards their transitions.
type TaskStore interface {
	// CreateTask fails with domain.ErrOpenTaskExists when the item already has a pending or
	// scheduled task.
	CreateTask(ctx context.Context, task domain.PublicationTask) error
	PromoteTask(ctx context.Context, id string, scheduledFor time.Time) error
	RescheduleTask(ctx context.Context, id string, scheduledFor time.Time) error
	DueTasks(ctx context.Context, now time.Time, limit int) ([]domain.PublicationTask, error)
	// ClaimTask succeeds only if the task is still scheduled and not leased by someone else.
	ClaimTask(ctx context.Context, id, token string, now, until time.Time) (bool, error)
	ReleaseTask(ctx context.Context, id, token string) error
	// MarkSending records that a send is about to start under token. It fails with
	// domain.ErrSendAttempted when an earlier claim already got that far.
	MarkSending(ctx context.Context, id, token string, at time.Time) error
	// CompleteTask writes the terminal outcome and, for posted, flips the item's posted flag atomically.
	CompleteTask(ctx context.Context, id, token string, outcome domain.TaskOutcome) error
	Queue(ctx context.Context) ([]domain.PublicationTask, error)
	// CountCreated counts tasks of any status created in [from, to).
	CountCreated(ctx context.Context, from, to time.Time) (int, error)
	Ledger(ctx context.Context, now time.Time) (domain.PublicationLedger, error)
}

// Store is the transactional persistence the core reads from and writes to.
type Store interface {
	ItemStore
	TaskStore
}

// SeenCache remembers recently processed URLs so ingestion can skip rescoring them.
type SeenCache interface {
	Seen(ctx context.Context, url string) (bool, error)
	Remember(ctx context.Context, url string) error
}

// Trigger controls when a job executes.
type Trigger interface {
	Start(ctx context.Context, job func(context.Context, time.Time)) error
	Stop(ctx context.Context) error
}
