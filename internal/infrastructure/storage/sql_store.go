package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/ports"
)

// Dialect selects placeholder style and schema.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

//go:embed schema_postgres.sql
var schemaPostgres string

//go:embed schema_sqlite.sql
var schemaSQLite string

const (
	itemsTable = "items"
	tasksTable = "publication_tasks"
)

var itemColumns = []string{
	"id", "url", "title", "source", "category", "snippet",
	"published_at", "sentiment_score", "ingested_at", "posted", "posted_at",
}

var taskColumns = []string{
	"id", "item_id", "text", "replies", "scheduled_for", "status",
	"posted_at", "external_post_id", "last_error", "send_started_at", "created_at",
}

// SQLStore persists items and publication tasks in Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
}

var _ ports.Store = (*SQLStore)(nil)

// NewSQLStore wires a sql.DB implementation.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	format := sq.PlaceholderFormat(sq.Question)
	if dialect == DialectPostgres {
		format = sq.Dollar
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(format),
	}
}

// Migrate creates the tables when they do not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.dialect == DialectPostgres {
		schema = schemaPostgres
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply %s schema: %w", s.dialect, err)
	}
	return nil
}

// InsertItem stores the item and reports false when its URL is already known.
func (s *SQLStore) InsertItem(ctx context.Context, item domain.StoredItem) (bool, error) {
	category := item.Item.Category
	if category == "" {
		category = domain.DefaultCategory
	}

	query, args, err := s.sb.Insert(itemsTable).
		Columns(itemColumns...).
		Values(
			item.ID,
			item.Item.URL,
			item.Item.Title,
			item.Item.Source,
			category,
			item.Item.Snippet,
			utcPtr(item.Item.PublishedAt),
			item.SentimentScore,
			item.IngestedAt.UTC(),
			false,
			nil,
		).
		Suffix("ON CONFLICT (url) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert item: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert item: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert item rows: %w", err)
	}
	return n == 1, nil
}

// KnownURLs returns the subset of urls already stored.
func (s *SQLStore) KnownURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	if len(urls) == 0 {
		return map[string]bool{}, nil
	}

	query, args, err := s.sb.Select("url").From(itemsTable).Where(sq.Eq{"url": urls}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build known urls: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query known urls: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		result[u] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// GetItem loads one item by id.
func (s *SQLStore) GetItem(ctx context.Context, id string) (domain.StoredItem, error) {
	query, args, err := s.sb.Select(itemColumns...).From(itemsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.StoredItem{}, fmt.Errorf("build get item: %w", err)
	}

	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StoredItem{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.StoredItem{}, fmt.Errorf("get item %s: %w", id, err)
	}
	return item, nil
}

// GetItemByURL loads one item by its normalised URL.
func (s *SQLStore) GetItemByURL(ctx context.Context, url string) (domain.StoredItem, error) {
	query, args, err := s.sb.Select(itemColumns...).From(itemsTable).Where(sq.Eq{"url": url}).ToSql()
	if err != nil {
		return domain.StoredItem{}, fmt.Errorf("build get item by url: %w", err)
	}

	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StoredItem{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.StoredItem{}, fmt.Errorf("get item by url: %w", err)
	}
	return item, nil
}

// ListItems returns stored items, newest first.
func (s *SQLStore) ListItems(ctx context.Context, q domain.ItemQuery) ([]domain.StoredItem, error) {
	builder := s.sb.Select(itemColumns...).
		From(itemsTable).
		OrderBy("ingested_at DESC", "id ASC")
	if q.UnpostedOnly {
		builder = builder.Where(sq.Eq{"posted": false})
	}
	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}
	return s.listItems(ctx, builder)
}

// ListPlannable returns unposted items below threshold without an open task, most negative
// first. Items whose earlier send ended unconfirmed are left out as well.
func (s *SQLStore) ListPlannable(ctx context.Context, threshold float64, limit int) ([]domain.StoredItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	return s.listItems(ctx, s.sb.Select(prefixed("i", itemColumns)...).
		From(itemsTable+" i").
		Where(sq.Eq{"i.posted": false}).
		Where(sq.Lt{"i.sentiment_score": threshold}).
		Where(sq.Expr(
			"NOT EXISTS (SELECT 1 FROM "+tasksTable+" t WHERE t.item_id = i.id AND "+
				"(t.status IN (?, ?) OR (t.status = ? AND t.send_started_at IS NOT NULL)))",
			string(domain.StatusPending), string(domain.StatusScheduled), string(domain.StatusFailed),
		)).
		OrderBy("i.sentiment_score ASC", "i.ingested_at ASC", "i.id ASC").
		Limit(uint64(limit)))
}

// CreateTask inserts a new pending or scheduled task. The partial unique index on open
// tasks turns a second open task for the same item into domain.ErrOpenTaskExists.
func (s *SQLStore) CreateTask(ctx context.Context, task domain.PublicationTask) error {
	if task.Status != domain.StatusPending && task.Status != domain.StatusScheduled {
		return fmt.Errorf("create task with status %q: %w", task.Status, domain.ErrInvalidTransition)
	}

	replies, err := encodeReplies(task.Replies)
	if err != nil {
		return err
	}

	query, args, err := s.sb.Insert(tasksTable).
		Columns(taskColumns...).
		Values(
			task.ID,
			task.ItemID,
			task.Text,
			replies,
			task.ScheduledFor.UTC(),
			string(task.Status),
			nil,
			"",
			"",
			nil,
			task.CreatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert task: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create task for item %s: %w", task.ItemID, domain.ErrOpenTaskExists)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// PromoteTask moves a pending task to scheduled.
func (s *SQLStore) PromoteTask(ctx context.Context, id string, scheduledFor time.Time) error {
	return s.updateInStatus(ctx, id, domain.StatusPending, sq.Eq{
		"status":        string(domain.StatusScheduled),
		"scheduled_for": scheduledFor.UTC(),
	})
}

// RescheduleTask changes the time of a task that is still scheduled.
func (s *SQLStore) RescheduleTask(ctx context.Context, id string, scheduledFor time.Time) error {
	return s.updateInStatus(ctx, id, domain.StatusScheduled, sq.Eq{
		"scheduled_for": scheduledFor.UTC(),
	})
}

// DueTasks lists scheduled tasks whose time has come, oldest first.
func (s *SQLStore) DueTasks(ctx context.Context, now time.Time, limit int) ([]domain.PublicationTask, error) {
	return s.listTasks(ctx, s.sb.Select(taskColumns...).
		From(tasksTable).
		Where(sq.Eq{"status": string(domain.StatusScheduled)}).
		Where(sq.LtOrEq{"scheduled_for": now.UTC()}).
		OrderBy("scheduled_for ASC", "created_at ASC", "id ASC").
		Limit(uint64(max(limit, 0))))
}

// ClaimTask leases a scheduled task to token until the given time. It reports false when
// the task is no longer scheduled or another lease is still live.
func (s *SQLStore) ClaimTask(ctx context.Context, id, token string, now, until time.Time) (bool, error) {
	query, args, err := s.sb.Update(tasksTable).
		Set("claim_token", token).
		Set("claimed_until", until.UTC()).
		Where(sq.Eq{"id": id, "status": string(domain.StatusScheduled)}).
		Where(sq.Or{sq.Eq{"claimed_until": nil}, sq.Lt{"claimed_until": now.UTC()}}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build claim: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claim task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows: %w", err)
	}
	return n == 1, nil
}

// ReleaseTask drops the lease held by token.
func (s *SQLStore) ReleaseTask(ctx context.Context, id, token string) error {
	query, args, err := s.sb.Update(tasksTable).
		Set("claim_token", nil).
		Set("claimed_until", nil).
		Where(sq.Eq{"id": id, "claim_token": token}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build release: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("release task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("release rows: %w", err)
	} else if n == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

// MarkSending stamps send_started_at under the live claim. Once stamped it is never cleared,
// so a later claimer learns that a send may already have gone out.
func (s *SQLStore) MarkSending(ctx context.Context, id, token string, at time.Time) error {
	query, args, err := s.sb.Update(tasksTable).
		Set("send_started_at", at.UTC()).
		Where(sq.Eq{
			"id":              id,
			"claim_token":     token,
			"status":          string(domain.StatusScheduled),
			"send_started_at": nil,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark sending: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark task %s sending: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark sending rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	query, args, err = s.sb.Select("COUNT(*)").
		From(tasksTable).
		Where(sq.Eq{"id": id, "claim_token": token, "status": string(domain.StatusScheduled)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sending check: %w", err)
	}
	var held int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&held); err != nil {
		return fmt.Errorf("check claim: %w", err)
	}
	if held == 0 {
		return domain.ErrClaimLost
	}
	return domain.ErrSendAttempted
}

// CompleteTask records the terminal outcome. For posted outcomes the item's posted flag is
// set in the same transaction; an item that is already posted rolls everything back.
func (s *SQLStore) CompleteTask(ctx context.Context, id, token string, outcome domain.TaskOutcome) error {
	if !domain.StatusScheduled.CanTransition(outcome.Status) {
		return fmt.Errorf("complete task %s to %s: %w", id, outcome.Status, domain.ErrInvalidTransition)
	}

	at := outcome.At.UTC()
	update := s.sb.Update(tasksTable).
		Set("status", string(outcome.Status)).
		Set("external_post_id", outcome.ExternalPostID).
		Set("last_error", outcome.Error).
		Set("claim_token", nil).
		Set("claimed_until", nil).
		Where(sq.Eq{"id": id, "claim_token": token, "status": string(domain.StatusScheduled)})
	if outcome.Status == domain.StatusPosted {
		update = update.Set("posted_at", at)
	}
	if outcome.Status == domain.StatusFailed && !outcome.Unconfirmed {
		update = update.Set("send_started_at", nil)
	}

	query, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("build complete: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("complete rows: %w", err)
	} else if n == 0 {
		return domain.ErrClaimLost
	}

	if outcome.Status == domain.StatusPosted {
		query, args, err = s.sb.Update(itemsTable).
			Set("posted", true).
			Set("posted_at", at).
			Where(sq.Expr("id = (SELECT item_id FROM "+tasksTable+" WHERE id = ?)", id)).
			Where(sq.Eq{"posted": false}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build mark posted: %w", err)
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("mark item posted: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("mark posted rows: %w", err)
		} else if n == 0 {
			return domain.ErrAlreadyPosted
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete: %w", err)
	}
	return nil
}

// Queue lists pending and scheduled tasks by scheduled time.
func (s *SQLStore) Queue(ctx context.Context) ([]domain.PublicationTask, error) {
	return s.listTasks(ctx, s.sb.Select(taskColumns...).
		From(tasksTable).
		Where(sq.Eq{"status": []string{string(domain.StatusPending), string(domain.StatusScheduled)}}).
		OrderBy("scheduled_for ASC", "created_at ASC", "id ASC"))
}

// CountCreated counts tasks of any status created in [from, to).
func (s *SQLStore) CountCreated(ctx context.Context, from, to time.Time) (int, error) {
	query, args, err := s.sb.Select("COUNT(*)").
		From(tasksTable).
		Where(sq.GtOrEq{"created_at": from.UTC()}).
		Where(sq.Lt{"created_at": to.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count created: %w", err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count created tasks: %w", err)
	}
	return n, nil
}

// Ledger counts posts inside the trailing window and finds the latest one.
func (s *SQLStore) Ledger(ctx context.Context, now time.Time) (domain.PublicationLedger, error) {
	var ledger domain.PublicationLedger

	query, args, err := s.sb.Select("COUNT(*)").
		From(tasksTable).
		Where(sq.Eq{"status": string(domain.StatusPosted)}).
		Where(sq.Gt{"posted_at": now.Add(-domain.LedgerWindow).UTC()}).
		ToSql()
	if err != nil {
		return ledger, fmt.Errorf("build ledger count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&ledger.PostedLast24h); err != nil {
		return ledger, fmt.Errorf("count recent posts: %w", err)
	}

	// Plain column select instead of MAX() so SQLite keeps the DATETIME type.
	query, args, err = s.sb.Select("posted_at").
		From(tasksTable).
		Where(sq.Eq{"status": string(domain.StatusPosted)}).
		Where(sq.NotEq{"posted_at": nil}).
		OrderBy("posted_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return ledger, fmt.Errorf("build ledger last: %w", err)
	}

	var last sql.NullTime
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ledger, fmt.Errorf("load last post: %w", err)
	case last.Valid:
		t := last.Time.UTC()
		ledger.LastPostedAt = &t
	}
	return ledger, nil
}

func (s *SQLStore) updateInStatus(ctx context.Context, id string, from domain.TaskStatus, set sq.Eq) error {
	query, args, err := s.sb.Update(tasksTable).
		SetMap(set).
		Where(sq.Eq{"id": id, "status": string(from)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update task: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	query, args, err = s.sb.Select("status").From(tasksTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build task status: %w", err)
	}
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("load task status: %w", err)
	}
	return fmt.Errorf("task %s is %s: %w", id, status, domain.ErrInvalidTransition)
}

func (s *SQLStore) listItems(ctx context.Context, builder sq.SelectBuilder) ([]domain.StoredItem, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.StoredItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

func (s *SQLStore) listTasks(ctx context.Context, builder sq.SelectBuilder) ([]domain.PublicationTask, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build task query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.PublicationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.StoredItem, error) {
	var (
		item      domain.StoredItem
		published sql.NullTime
		postedAt  sql.NullTime
	)
	err := row.Scan(
		&item.ID,
		&item.Item.URL,
		&item.Item.Title,
		&item.Item.Source,
		&item.Item.Category,
		&item.Item.Snippet,
		&published,
		&item.SentimentScore,
		&item.IngestedAt,
		&item.Posted,
		&postedAt,
	)
	if err != nil {
		return domain.StoredItem{}, err
	}
	item.Item.PublishedAt = nullTimePtr(published)
	item.PostedAt = nullTimePtr(postedAt)
	item.IngestedAt = item.IngestedAt.UTC()
	return item, nil
}

func scanTask(row rowScanner) (domain.PublicationTask, error) {
	var (
		task        domain.PublicationTask
		replies     string
		status      string
		postedAt    sql.NullTime
		sendStarted sql.NullTime
	)
	err := row.Scan(
		&task.ID,
		&task.ItemID,
		&task.Text,
		&replies,
		&task.ScheduledFor,
		&status,
		&postedAt,
		&task.ExternalPostID,
		&task.LastError,
		&sendStarted,
		&task.CreatedAt,
	)
	if err != nil {
		return domain.PublicationTask{}, err
	}
	if replies != "" {
		if err := json.Unmarshal([]byte(replies), &task.Replies); err != nil {
			return domain.PublicationTask{}, fmt.Errorf("decode replies: %w", err)
		}
	}
	task.Status = domain.TaskStatus(status)
	task.PostedAt = nullTimePtr(postedAt)
	task.SendStartedAt = nullTimePtr(sendStarted)
	task.ScheduledFor = task.ScheduledFor.UTC()
	task.CreatedAt = task.CreatedAt.UTC()
	return task, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func encodeReplies(replies []string) (string, error) {
	if len(replies) == 0 {
		return "", nil
	}
	b, err := json.Marshal(replies)
	if err != nil {
		return "", fmt.Errorf("encode replies: %w", err)
	}
	return string(b), nil
}

func prefixed(alias string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = alias + "." + c
	}
	return out
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
