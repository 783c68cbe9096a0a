package inbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/domain/backoff"
	"github.com/phrazzld/task-inbox/internal/store"
)

// DefaultClaimTimeout is the claim lease used when neither the request nor
// the service configuration names one.
const DefaultClaimTimeout = 5 * time.Minute

// CreateTaskInput describes a task to ingest.
type CreateTaskInput struct {
	// ID is optional; a UUID is generated when empty
	ID            string          `json:"id,omitempty"`
	SourceID      *string         `json:"source_id,omitempty"`
	Type          string          `json:"type" validate:"required"`
	Title         string          `json:"title,omitempty"`
	SourceURL     *string         `json:"source_url,omitempty" validate:"omitempty,url"`
	Priority      int             `json:"priority"`
	TargetAgentID *string         `json:"target_agent_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	// MaxAttempts <= 0 uses the service default
	MaxAttempts int            `json:"max_attempts,omitempty" validate:"gte=0"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UpdateTaskInput holds the fields UpdateTask may change. Nil fields are left alone.
// Metadata is merged into the existing map, not substituted for it.
type UpdateTaskInput struct {
	RunID    *string        `json:"run_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FailTaskInput reports a failed attempt.
type FailTaskInput struct {
	Error domain.TaskError `json:"error"`
	// RetryConfig overrides the service backoff curve for this failure
	RetryConfig *backoff.Params `json:"-"`
}

// ClaimFilter narrows the candidates a claim may return.
type ClaimFilter struct {
	// Types restricts candidates to these task types when non-empty
	Types []string
	// Filter is applied to the single locked candidate; a rejection ends the
	// claim with no task rather than moving on to the next candidate
	Filter func(*domain.Task) bool
}

// ClaimRequest asks for the next task in an inbox on behalf of an agent.
type ClaimRequest struct {
	InboxID string
	AgentID string
	Filter  *ClaimFilter
	// ClaimTimeout <= 0 uses the service default
	ClaimTimeout time.Duration
}

// Service is the consumer surface of the task inbox.
type Service interface {
	// CreateTask inserts a PENDING task into inboxID.
	CreateTask(ctx context.Context, inboxID string, input CreateTaskInput) (*domain.Task, error)

	// CreateTasks creates each input independently. On failure it returns the
	// tasks created before the failing input together with the error; there is
	// no atomicity across the batch.
	CreateTasks(ctx context.Context, inboxID string, inputs []CreateTaskInput) ([]*domain.Task, error)

	// UpsertTask ingests the upstream item sourceID. A missing task is created;
	// a COMPLETED or CANCELLED task is returned unchanged; any other task has
	// its type, payload, title, source URL and priority replaced and its metadata
	// merged, keeping its status.
	UpsertTask(ctx context.Context, inboxID, sourceID string, input CreateTaskInput) (*domain.Task, error)

	// GetTask returns the task, or nil without error when it does not exist.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// UpdateTask changes the run ID and merges metadata.
	UpdateTask(ctx context.Context, taskID string, input UpdateTaskInput) (*domain.Task, error)

	// DeleteTask removes one task.
	DeleteTask(ctx context.Context, taskID string) error

	// DeleteTasks removes every matching task and returns how many were removed.
	DeleteTasks(ctx context.Context, filter store.DeleteFilter) (int64, error)

	// ListTasks returns tasks in inboxID ordered by priority descending, then
	// creation time. An empty inboxID lists every inbox.
	ListTasks(ctx context.Context, inboxID string, filter store.ListFilter) ([]*domain.Task, error)

	// ListWaitingTasks returns WAITING_FOR_INPUT tasks, optionally within one inbox.
	ListWaitingTasks(ctx context.Context, inboxID *string) ([]*domain.Task, error)

	// ClaimTask claims the highest-priority, oldest eligible task for the agent.
	// It returns nil without error when no task is available.
	ClaimTask(ctx context.Context, req ClaimRequest) (*domain.Task, error)

	// ReleaseTask returns a non-terminal task to PENDING without counting a failure.
	ReleaseTask(ctx context.Context, taskID string) (*domain.Task, error)

	// ReleaseExpiredClaims returns every CLAIMED task whose lease has ended to
	// PENDING and reports how many were reclaimed.
	ReleaseExpiredClaims(ctx context.Context) (int64, error)

	// StartTask moves a CLAIMED task to IN_PROGRESS.
	StartTask(ctx context.Context, taskID string) (*domain.Task, error)

	// CompleteTask stores result and moves an IN_PROGRESS task to COMPLETED.
	CompleteTask(ctx context.Context, taskID string, result json.RawMessage) (*domain.Task, error)

	// FailTask records a failed attempt, scheduling a retry or failing the task
	// terminally.
	FailTask(ctx context.Context, taskID string, input FailTaskInput) (*domain.Task, error)

	// CancelTask moves a non-terminal task to CANCELLED.
	CancelTask(ctx context.Context, taskID string) (*domain.Task, error)

	// SuspendTask parks an IN_PROGRESS task in WAITING_FOR_INPUT.
	SuspendTask(ctx context.Context, taskID string, payload json.RawMessage) (*domain.Task, error)

	// ResumeTask moves a WAITING_FOR_INPUT task back to IN_PROGRESS.
	ResumeTask(ctx context.Context, taskID string, payload json.RawMessage) (*domain.Task, error)

	// GetStats returns task counts for one inbox from a single snapshot.
	GetStats(ctx context.Context, inboxID string) (domain.InboxStats, error)

	// GetStatsByInbox returns task counts for every inbox from a single snapshot.
	GetStatsByInbox(ctx context.Context) (map[string]domain.InboxStats, error)
}

// Option configures the service.
type Option func(*service)

// WithClock replaces the wall clock. Times are truncated to microseconds to
// match the precision the stores persist.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithRecorder sets the recorder notified of claims and transitions.
func WithRecorder(r Recorder) Option {
	return func(s *service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClaimTimeout sets the default claim lease.
func WithClaimTimeout(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.claimTimeout = d
		}
	}
}

// WithDefaultMaxAttempts sets the attempt ceiling for tasks created without one.
func WithDefaultMaxAttempts(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry curve used when FailTask carries no RetryConfig.
func WithBackoff(p *backoff.Params) Option {
	return func(s *service) {
		if p != nil {
			s.backoff = p
		}
	}
}

// Verify interface compliance at compile time
var _ Service = (*service)(nil)

type service struct {
	store        store.TaskStore
	logger       *slog.Logger
	clock        func() time.Time
	recorder     Recorder
	claimTimeout time.Duration
	maxAttempts  int
	backoff      *backoff.Params
}

// NewService creates the inbox service on top of taskStore.
// If logger is nil, a default logger will be used.
func NewService(taskStore store.TaskStore, logger *slog.Logger, opts ...Option) Service {
	if taskStore == nil {
		panic("taskStore cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &service{
		store:        taskStore,
		logger:       logger.With(slog.String("component", "inbox_service")),
		clock:        time.Now,
		recorder:     nopRecorder{},
		claimTimeout: DefaultClaimTimeout,
		maxAttempts:  domain.DefaultMaxAttempts,
		backoff:      backoff.NewDefaultParams(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}
