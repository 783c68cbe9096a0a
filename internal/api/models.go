package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/domain/backoff"
	"github.com/phrazzld/task-inbox/internal/service/inbox"
)

// Request and response bodies for the task endpoints. Task bodies use the
// inbox input types directly.

// CreateTasksRequest is the body of POST /api/inboxes/{inboxID}/tasks/batch.
type CreateTasksRequest struct {
	Tasks []inbox.CreateTaskInput `json:"tasks" validate:"required,min=1,dive"`
}

// CreateTasksResponse reports the tasks created before any failure.
type CreateTasksResponse struct {
	Tasks []*domain.Task `json:"tasks"`
	Error string         `json:"error,omitempty"`
}

// ClaimTaskRequest is the optional body of POST /api/inboxes/{inboxID}/claim.
// The claiming agent is always the authenticated token subject.
type ClaimTaskRequest struct {
	Types []string `json:"types,omitempty"`
	// ClaimTimeoutSeconds <= 0 uses the server default lease
	ClaimTimeoutSeconds int `json:"claim_timeout_seconds,omitempty" validate:"gte=0"`
}

// UpdateTaskRequest is the body of PATCH /api/tasks/{taskID}.
type UpdateTaskRequest struct {
	RunID    *string        `json:"run_id,omitempty" validate:"omitempty,min=1"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CompleteTaskRequest is the optional body of POST /api/tasks/{taskID}/complete.
type CompleteTaskRequest struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// RetryRequest overrides the server backoff curve for one failure.
type RetryRequest struct {
	BaseDelayMS int64   `json:"base_delay_ms" validate:"gt=0"`
	Multiplier  float64 `json:"multiplier" validate:"gte=1"`
	MaxDelayMS  int64   `json:"max_delay_ms" validate:"gtefield=BaseDelayMS"`
	Jitter      float64 `json:"jitter,omitempty" validate:"gte=0,lte=1"`
}

// FailTaskRequest is the body of POST /api/tasks/{taskID}/fail.
type FailTaskRequest struct {
	Message   string        `json:"message" validate:"required"`
	Stack     string        `json:"stack,omitempty"`
	Retryable *bool         `json:"retryable,omitempty"`
	Retry     *RetryRequest `json:"retry,omitempty"`
}

// PayloadRequest is the optional body of the suspend and resume endpoints.
type PayloadRequest struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IngestEventRequest is the body of POST /api/inboxes/{inboxID}/events.
type IngestEventRequest struct {
	SourceID string          `json:"source_id,omitempty"`
	Type     string          `json:"type" validate:"required"`
	Title    string          `json:"title,omitempty"`
	Priority int             `json:"priority,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// IngestEventResponse acknowledges an accepted event.
type IngestEventResponse struct {
	EventID string `json:"event_id"`
}

// CountResponse reports how many tasks a bulk operation touched.
type CountResponse struct {
	Count int64 `json:"count"`
}

// StatsResponse is the body of GET /api/inboxes/{inboxID}/stats.
type StatsResponse struct {
	InboxID string `json:"inbox_id"`
	domain.InboxStats
	Total int64 `json:"total"`
}

func newStatsResponse(inboxID string, stats domain.InboxStats) StatsResponse {
	return StatsResponse{InboxID: inboxID, InboxStats: stats, Total: stats.Total()}
}

// TaskListResponse wraps list results.
type TaskListResponse struct {
	Tasks []*domain.Task `json:"tasks"`
}

func newTaskListResponse(tasks []*domain.Task) TaskListResponse {
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	return TaskListResponse{Tasks: tasks}
}

// Params converts r to a backoff curve; nil when r is nil. Zero fields keep
// the default curve's values.
func (r *RetryRequest) Params() *backoff.Params {
	if r == nil {
		return nil
	}
	return backoff.NewParams(backoff.ParamsConfig{
		BaseDelay:  time.Duration(r.BaseDelayMS) * time.Millisecond,
		Multiplier: r.Multiplier,
		MaxDelay:   time.Duration(r.MaxDelayMS) * time.Millisecond,
		Jitter:     r.Jitter,
	})
}
