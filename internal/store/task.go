package store

import (
	"context"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
)

// ListFilter narrows ListTasks. Zero values mean "no constraint".
type ListFilter struct {
	InboxID       *string
	Statuses      []domain.TaskStatus
	Type          *string
	TargetAgentID *string
	ClaimedBy     *string
	Priority      *int
	Limit         int
	Offset        int
}

// DeleteFilter narrows DeleteTasks. OlderThan matches tasks created strictly before it.
type DeleteFilter struct {
	InboxID   *string
	Statuses  []domain.TaskStatus
	OlderThan *time.Time
}

// ClaimCriteria selects the candidate returned by ClaimNext.
// Types restricts candidates to the given task types when non-empty.
type ClaimCriteria struct {
	InboxID string
	AgentID string
	Types   []string
	Now     time.Time
}

// TaskStore defines the interface for task persistence.
type TaskStore interface {
	// CreateTask saves a new task. Returns ErrDuplicate when (inbox, source ID)
	// is already taken.
	CreateTask(ctx context.Context, task *domain.Task) error

	// GetTaskByID retrieves a task by ID. Returns ErrTaskNotFound on a miss.
	GetTaskByID(ctx context.Context, id string) (*domain.Task, error)

	// GetTaskForUpdate retrieves a task and locks it until the surrounding
	// transaction ends. Outside WithinTx the lock is released immediately.
	GetTaskForUpdate(ctx context.Context, id string) (*domain.Task, error)

	// GetTaskBySourceID retrieves the task ingested from sourceID into inboxID
	// and locks it like GetTaskForUpdate.
	GetTaskBySourceID(ctx context.Context, inboxID, sourceID string) (*domain.Task, error)

	// UpdateTask writes every mutable field of task. Returns ErrTaskNotFound on a miss.
	UpdateTask(ctx context.Context, task *domain.Task) error

	// DeleteTask removes a task. Returns ErrTaskNotFound on a miss.
	DeleteTask(ctx context.Context, id string) error

	// DeleteTasks removes every task matching filter and returns the count.
	DeleteTasks(ctx context.Context, filter DeleteFilter) (int64, error)

	// ListTasks returns matching tasks ordered by priority descending, then
	// creation time ascending, then ID ascending.
	ListTasks(ctx context.Context, filter ListFilter) ([]*domain.Task, error)

	// ClaimNext locks and returns the highest-ranked eligible task, skipping rows
	// locked by other transactions. Eligible means PENDING, retry window elapsed,
	// and targeted at nobody or at criteria.AgentID. Returns ErrNoTaskAvailable
	// when nothing qualifies. The row stays locked until the transaction ends.
	ClaimNext(ctx context.Context, criteria ClaimCriteria) (*domain.Task, error)

	// ReleaseExpiredClaims returns every CLAIMED task whose lease ended before now
	// to PENDING and reports how many were reset.
	ReleaseExpiredClaims(ctx context.Context, now time.Time) (int64, error)

	// CountByStatus counts tasks per status within one inbox in a single snapshot.
	CountByStatus(ctx context.Context, inboxID string) (map[domain.TaskStatus]int64, error)

	// CountByInbox counts tasks per status for every inbox in a single snapshot.
	CountByInbox(ctx context.Context) (map[string]map[domain.TaskStatus]int64, error)

	// WithinTx runs fn against a store bound to a new transaction.
	// The transaction commits if fn returns nil and rolls back otherwise.
	// Calling WithinTx on a transaction-bound store reuses the transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TaskStore) error) error
}
