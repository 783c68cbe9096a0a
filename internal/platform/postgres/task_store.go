package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/platform/logger"
	"github.com/phrazzld/task-inbox/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	sqlDB  *sql.DB // nil when bound to a transaction
	logger *slog.Logger
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a task store backed by db.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db *sql.DB, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		sqlDB:  db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// WithTx returns a store that runs every statement inside tx.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) *PostgresTaskStore {
	return &PostgresTaskStore{db: tx, logger: s.logger}
}

// WithinTx implements store.TaskStore.WithinTx.
func (s *PostgresTaskStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.TaskStore) error) error {
	if s.sqlDB == nil {
		return fn(ctx, s)
	}
	err := store.RunInTransaction(ctx, s.sqlDB, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, s.WithTx(tx))
	})
	if errors.Is(err, store.ErrTransactionFailed) {
		return newTaskError("transaction", "", err)
	}
	return err
}

// fail logs err and converts it into a redacted StoreError.
func (s *PostgresTaskStore) fail(ctx context.Context, operation, id string, err error) error {
	storeErr := newTaskError(operation, id, err)
	log := logger.FromContextOrDefault(ctx, s.logger)
	if errors.Is(storeErr, store.ErrNotFound) {
		log.Debug("task not found", slog.String("operation", operation), slog.String("task_id", id))
	} else {
		log.Error("task store operation failed",
			slog.String("operation", operation),
			slog.String("task_id", id),
			slog.String("error", storeErr.Message))
	}
	return storeErr
}

// CreateTask implements store.TaskStore.CreateTask.
func (s *PostgresTaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	args, err := mutableArgs(task)
	if err != nil {
		return err
	}
	args = append([]any{task.ID, task.InboxID, task.CreatedAt.UTC()}, args...)

	columns := append([]string{"id", "inbox_id", "created_at"}, mutableColumns...)
	query := fmt.Sprintf(`INSERT INTO tasks (%s) VALUES (%s)`,
		strings.Join(columns, ", "), placeholders(1, len(columns)))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return s.fail(ctx, "create", task.ID, err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Debug("task created",
		slog.String("task_id", task.ID),
		slog.String("inbox_id", task.InboxID),
		slog.String("type", task.Type))
	return nil
}

// GetTaskByID implements store.TaskStore.GetTaskByID.
func (s *PostgresTaskStore) GetTaskByID(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, s.fail(ctx, "get", id, err)
	}
	return t, nil
}

// GetTaskForUpdate implements store.TaskStore.GetTaskForUpdate.
func (s *PostgresTaskStore) GetTaskForUpdate(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, s.fail(ctx, "get_for_update", id, err)
	}
	return t, nil
}

// GetTaskBySourceID implements store.TaskStore.GetTaskBySourceID.
func (s *PostgresTaskStore) GetTaskBySourceID(ctx context.Context, inboxID, sourceID string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE inbox_id = $1 AND source_id = $2 FOR UPDATE`,
		inboxID, sourceID)
	t, err := scanTask(row)
	if err != nil {
		return nil, s.fail(ctx, "get_by_source", sourceID, err)
	}
	return t, nil
}

// UpdateTask implements store.TaskStore.UpdateTask.
func (s *PostgresTaskStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	args, err := mutableArgs(task)
	if err != nil {
		return err
	}

	sets := make([]string, len(mutableColumns))
	for i, col := range mutableColumns {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+2)
	}
	query := fmt.Sprintf(`UPDATE tasks SET %s, updated_at = NOW() WHERE id = $1`, strings.Join(sets, ", "))

	result, err := s.db.ExecContext(ctx, query, append([]any{task.ID}, args...)...)
	if err != nil {
		return s.fail(ctx, "update", task.ID, err)
	}
	if err := checkRowsAffected(result); err != nil {
		return s.fail(ctx, "update", task.ID, err)
	}
	return nil
}

// DeleteTask implements store.TaskStore.DeleteTask.
func (s *PostgresTaskStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return s.fail(ctx, "delete", id, err)
	}
	if err := checkRowsAffected(result); err != nil {
		return s.fail(ctx, "delete", id, err)
	}
	return nil
}

// DeleteTasks implements store.TaskStore.DeleteTasks.
func (s *PostgresTaskStore) DeleteTasks(ctx context.Context, filter store.DeleteFilter) (int64, error) {
	var w where
	if filter.InboxID != nil {
		w.add("inbox_id = ?", *filter.InboxID)
	}
	if len(filter.Statuses) > 0 {
		w.add("status = ANY(?)", statusStrings(filter.Statuses))
	}
	if filter.OlderThan != nil {
		w.add("created_at < ?", filter.OlderThan.UTC())
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks`+w.sql(), w.args...)
	if err != nil {
		return 0, s.fail(ctx, "delete_many", "", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, s.fail(ctx, "delete_many", "", err)
	}
	return n, nil
}

// ListTasks implements store.TaskStore.ListTasks.
func (s *PostgresTaskStore) ListTasks(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error) {
	var w where
	if filter.InboxID != nil {
		w.add("inbox_id = ?", *filter.InboxID)
	}
	if len(filter.Statuses) > 0 {
		w.add("status = ANY(?)", statusStrings(filter.Statuses))
	}
	if filter.Type != nil {
		w.add("type = ?", *filter.Type)
	}
	if filter.TargetAgentID != nil {
		w.add("target_agent_id = ?", *filter.TargetAgentID)
	}
	if filter.ClaimedBy != nil {
		w.add("claimed_by = ?", *filter.ClaimedBy)
	}
	if filter.Priority != nil {
		w.add("priority = ?", *filter.Priority)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks` + w.sql() + ` ORDER BY priority DESC, created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += w.next(" LIMIT ?", filter.Limit)
	}
	if filter.Offset > 0 {
		query += w.next(" OFFSET ?", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, s.fail(ctx, "list", "", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, s.fail(ctx, "list", "", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, "list", "", err)
	}
	return tasks, nil
}

// ClaimNext implements store.TaskStore.ClaimNext.
// SKIP LOCKED makes concurrent claimers pass over rows that another claim
// transaction holds, so each caller lands on a distinct task.
func (s *PostgresTaskStore) ClaimNext(ctx context.Context, criteria store.ClaimCriteria) (*domain.Task, error) {
	var types any
	if len(criteria.Types) > 0 {
		types = criteria.Types
	}

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE inbox_id = $1
		  AND status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= $2)
		  AND (target_agent_id IS NULL OR target_agent_id = $3)
		  AND ($4::text[] IS NULL OR type = ANY($4::text[]))
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	row := s.db.QueryRowContext(ctx, query, criteria.InboxID, criteria.Now.UTC(), criteria.AgentID, types)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoTaskAvailable
	}
	if err != nil {
		return nil, s.fail(ctx, "claim", "", err)
	}
	return t, nil
}

// ReleaseExpiredClaims implements store.TaskStore.ReleaseExpiredClaims.
// Rows currently locked by a claim or transition are left for the next sweep.
func (s *PostgresTaskStore) ReleaseExpiredClaims(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE tasks
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL,
		    claim_expires_at = NULL, run_id = NULL, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = 'claimed' AND claim_expires_at < $1
			FOR UPDATE SKIP LOCKED
		)
	`
	result, err := s.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, s.fail(ctx, "release_expired", "", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, s.fail(ctx, "release_expired", "", err)
	}
	if n > 0 {
		logger.FromContextOrDefault(ctx, s.logger).Info("released expired claims", slog.Int64("count", n))
	}
	return n, nil
}

// CountByStatus implements store.TaskStore.CountByStatus.
func (s *PostgresTaskStore) CountByStatus(ctx context.Context, inboxID string) (map[domain.TaskStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE inbox_id = $1 GROUP BY status`, inboxID)
	if err != nil {
		return nil, s.fail(ctx, "count", "", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, s.fail(ctx, "count", "", err)
		}
		counts[domain.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, "count", "", err)
	}
	return counts, nil
}

// CountByInbox implements store.TaskStore.CountByInbox.
func (s *PostgresTaskStore) CountByInbox(ctx context.Context) (map[string]map[domain.TaskStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT inbox_id, status, COUNT(*) FROM tasks GROUP BY inbox_id, status`)
	if err != nil {
		return nil, s.fail(ctx, "count_by_inbox", "", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]map[domain.TaskStatus]int64)
	for rows.Next() {
		var inboxID, status string
		var n int64
		if err := rows.Scan(&inboxID, &status, &n); err != nil {
			return nil, s.fail(ctx, "count_by_inbox", "", err)
		}
		if counts[inboxID] == nil {
			counts[inboxID] = make(map[domain.TaskStatus]int64)
		}
		counts[inboxID][domain.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, "count_by_inbox", "", err)
	}
	return counts, nil
}

// where accumulates AND-ed conditions, numbering "?" placeholders as $n.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(cond string, arg any) {
	w.clauses = append(w.clauses, w.next(cond, arg))
}

// next binds arg to the single "?" in fragment and returns the numbered fragment.
func (w *where) next(fragment string, arg any) string {
	w.args = append(w.args, arg)
	return strings.Replace(fragment, "?", fmt.Sprintf("$%d", len(w.args)), 1)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ph, ", ")
}

func statusStrings(statuses []domain.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
