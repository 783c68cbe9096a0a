package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is applied to tasks created without an explicit attempt ceiling.
const DefaultMaxAttempts = 3

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending         TaskStatus = "pending"
	TaskStatusClaimed         TaskStatus = "claimed"
	TaskStatusInProgress      TaskStatus = "in_progress"
	TaskStatusWaitingForInput TaskStatus = "waiting_for_input"
	TaskStatusCompleted       TaskStatus = "completed"
	TaskStatusFailed          TaskStatus = "failed"
	TaskStatusCancelled       TaskStatus = "cancelled"
)

// AllTaskStatuses lists every status in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusClaimed,
	TaskStatusInProgress,
	TaskStatusWaitingForInput,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusCancelled,
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusInProgress, TaskStatusWaitingForInput,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (s TaskStatus) String() string {
	return string(s)
}

// Common validation errors for Task
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyTaskInboxID = errors.New("task inbox ID cannot be empty")
	ErrEmptyTaskType    = errors.New("task type cannot be empty")
	ErrInvalidTaskState = errors.New("invalid task status")
	ErrInvalidAttempts  = errors.New("task max attempts must be positive")
	ErrInvalidPayload   = errors.New("task payload must be valid JSON")
)

// TaskError is the structured failure recorded on a task.
// Retryable is tri-state: nil means the failure may be retried.
type TaskError struct {
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// IsRetryable reports whether the error permits another attempt.
func (e *TaskError) IsRetryable() bool {
	return e == nil || e.Retryable == nil || *e.Retryable
}

// Task is a unit of work owned by an inbox.
type Task struct {
	ID            string  `json:"id"`
	InboxID       string  `json:"inbox_id"`
	SourceID      *string `json:"source_id,omitempty"`
	Type          string  `json:"type"`
	Title         string  `json:"title,omitempty"`
	SourceURL     *string `json:"source_url,omitempty"`
	Priority      int     `json:"priority"`
	TargetAgentID *string `json:"target_agent_id,omitempty"`

	Payload        json.RawMessage `json:"payload,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *TaskError      `json:"error,omitempty"`
	SuspendPayload json.RawMessage `json:"suspend_payload,omitempty"`
	ResumePayload  json.RawMessage `json:"resume_payload,omitempty"`

	Status TaskStatus `json:"status"`

	CreatedAt      time.Time  `json:"created_at"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	SuspendedAt    *time.Time `json:"suspended_at,omitempty"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	ClaimedBy *string `json:"claimed_by,omitempty"`
	RunID     *string `json:"run_id,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewTask creates a pending task in the given inbox.
// An empty id is replaced with a fresh UUID and maxAttempts <= 0 falls back to DefaultMaxAttempts.
func NewTask(id, inboxID, taskType string, payload json.RawMessage, maxAttempts int, now time.Time) (*Task, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	t := &Task{
		ID:          id,
		InboxID:     inboxID,
		Type:        taskType,
		Payload:     payload,
		Status:      TaskStatusPending,
		CreatedAt:   now.UTC(),
		Attempts:    0,
		MaxAttempts: maxAttempts,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyTaskID)
	}
	if t.InboxID == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyTaskInboxID)
	}
	if t.Type == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyTaskType)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidTaskState, t.Status)
	}
	if t.MaxAttempts <= 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidAttempts)
	}
	for _, raw := range []json.RawMessage{t.Payload, t.Result, t.SuspendPayload, t.ResumePayload} {
		if len(raw) > 0 && !json.Valid(raw) {
			return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidPayload)
		}
	}
	return nil
}

// Clone returns a deep copy of the task so callers can mutate it freely.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.SourceID = cloneString(t.SourceID)
	c.SourceURL = cloneString(t.SourceURL)
	c.TargetAgentID = cloneString(t.TargetAgentID)
	c.ClaimedBy = cloneString(t.ClaimedBy)
	c.RunID = cloneString(t.RunID)
	c.Payload = cloneRaw(t.Payload)
	c.Result = cloneRaw(t.Result)
	c.SuspendPayload = cloneRaw(t.SuspendPayload)
	c.ResumePayload = cloneRaw(t.ResumePayload)
	c.ClaimedAt = cloneTime(t.ClaimedAt)
	c.ClaimExpiresAt = cloneTime(t.ClaimExpiresAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.SuspendedAt = cloneTime(t.SuspendedAt)
	c.NextRetryAt = cloneTime(t.NextRetryAt)
	if t.Error != nil {
		e := *t.Error
		if t.Error.Retryable != nil {
			r := *t.Error.Retryable
			e.Retryable = &r
		}
		c.Error = &e
	}
	if t.Metadata != nil {
		c.Metadata = MergeMetadata(nil, t.Metadata)
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}

// MergeMetadata returns a new map holding existing overlaid with incoming.
// The merge is shallow: nested maps in incoming replace, not merge into, existing values.
func MergeMetadata(existing, incoming map[string]any) map[string]any {
	if existing == nil && incoming == nil {
		return nil
	}
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
