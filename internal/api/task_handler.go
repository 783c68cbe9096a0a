package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/task-inbox/internal/api/shared"
	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/events"
	"github.com/phrazzld/task-inbox/internal/platform/logger"
	"github.com/phrazzld/task-inbox/internal/service/inbox"
)

// TaskHandler serves the inbox and task endpoints.
type TaskHandler struct {
	svc     inbox.Service
	emitter events.EventEmitter
	logger  *slog.Logger
}

// NewTaskHandler creates a new TaskHandler. emitter may be nil, in which case
// the events endpoint reports 503.
func NewTaskHandler(svc inbox.Service, emitter events.EventEmitter, logger *slog.Logger) *TaskHandler {
	if svc == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("svc cannot be nil for TaskHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	return &TaskHandler{
		svc:     svc,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "task_handler")),
	}
}

// decode reads and validates a request body, writing a 400 on failure.
func (h *TaskHandler) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	decode := shared.DecodeJSON
	if optional {
		decode = shared.DecodeOptionalJSON
	}
	if err := decode(w, r, v); err != nil {
		if errors.Is(err, shared.ErrEmptyBody) {
			HandleAPIError(w, r, err, "")
			return false
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		HandleAPIError(w, r, err, "")
		return false
	}
	return true
}

// params resolves the named path parameters, writing an error on failure.
func params(w http.ResponseWriter, r *http.Request, names ...string) ([]string, bool) {
	out := make([]string, len(names))
	for i, name := range names {
		v, err := pathParam(r, name)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (h *TaskHandler) respondTask(w http.ResponseWriter, r *http.Request, status int, task *domain.Task, err error) {
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, status, task)
}

// CreateTask handles POST /api/inboxes/{inboxID}/tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "inboxID")
	if !ok {
		return
	}
	var input inbox.CreateTaskInput
	if !h.decode(w, r, &input, false) {
		return
	}
	task, err := h.svc.CreateTask(r.Context(), p[0], input)
	h.respondTask(w, r, http.StatusCreated, task, err)
}

// CreateTasks handles POST /api/inboxes/{inboxID}/tasks/batch. Tasks created
// before a failure are returned alongside the error.
func (h *TaskHandler) CreateTasks(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "inboxID")
	if !ok {
		return
	}
	var req CreateTasksRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	tasks, err := h.svc.CreateTasks(r.Context(), p[0], req.Tasks)
	if err != nil {
		if len(tasks) == 0 {
			HandleAPIError(w, r, err, "")
			return
		}
		logger.FromContextOrDefault(r.Context(), h.logger).Warn("batch partially created",
			slog.Int("created", len(tasks)),
			slog.Int("requested", len(req.Tasks)))
		shared.RespondWithJSON(w, r, MapErrorToStatusCode(err), CreateTasksResponse{
			Tasks: tasks,
			Error: GetSafeErrorMessage(err),
		})
		return
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, CreateTasksResponse{Tasks: tasks})
}

// UpsertTask handles PUT /api/inboxes/{inboxID}/tasks/source/{sourceID}.
func (h *TaskHandler) UpsertTask(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "inboxID", "sourceID")
	if !ok {
		return
	}
	var input inbox.CreateTaskInput
	if !h.decode(w, r, &input, false) {
		return
	}
	task, err := h.svc.UpsertTask(r.Context(), p[0], p[1], input)
	h.respondTask(w, r, http.StatusOK, task, err)
}

// ListTasks handles GET /api/inboxes/{inboxID}/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "inboxID")
	if !ok {
		return
	}
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		HandleAPIError(w, r, err, "Invalid request: "+err.Error())
		return
	}
	tasks, err := h.svc.ListTasks(r.Context(), p[0], filter)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, newTaskListResponse(tasks))
}

// DeleteTasks handles DELETE /api/inboxes/{inboxID}/tasks.
func (h *TaskHandler) DeleteTasks(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "inboxID")
	if !ok {
		return
	}
	filter, err := parseDeleteFilter(r.URL.Query())
	if err != nil {
		HandleAPIError(w, r, err, "Invalid request: "+err.Error())
		return
	}
	filter.InboxID = &p[0]
	n, err := h.svc.DeleteTasks(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CountResponse{Count: n})
}

// ClaimTask handles POST /api/inboxes/{inboxID}/claim for the authenticated
// agent. It answers 204 when there is nothing to claim.
func (h *TaskHandler) ClaimTask(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "inboxID")
	if !ok {
		return
	}
	agentID, err := requireAgent(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	var req ClaimTaskRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	claimReq := inbox.ClaimRequest{
		InboxID:      p[0],
		AgentID:      agentID,
		ClaimTimeout: time.Duration(req.ClaimTimeoutSeconds) * time.Second,
	}
	if len(req.Types) > 0 {
		claimReq.Filter = &inbox.ClaimFilter{Types: req.Types}
	}

	task, err := h.svc.ClaimTask(r.Context(), claimReq)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// GetStats handles GET /api/inboxes/{inboxID}/stats.
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "inboxID")
	if !ok {
		return
	}
	stats, err := h.svc.GetStats(r.Context(), p[0])
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, newStatsResponse(p[0], stats))
}

// GetStatsByInbox handles GET /api/stats.
func (h *TaskHandler) GetStatsByInbox(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.GetStatsByInbox(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	out := make(map[string]StatsResponse, len(all))
	for id, stats := range all {
		out[id] = newStatsResponse(id, stats)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// ListWaitingTasks handles GET /api/inboxes/{inboxID}/waiting.
func (h *TaskHandler) ListWaitingTasks(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "inboxID")
	if !ok {
		return
	}
	tasks, err := h.svc.ListWaitingTasks(r.Context(), &p[0])
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, newTaskListResponse(tasks))
}

// IngestEvent handles POST /api/inboxes/{inboxID}/events by emitting an
// ingest event to the registered handlers.
func (h *TaskHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	if h.emitter == nil {
		shared.RespondWithError(w, r, http.StatusServiceUnavailable, "Event ingestion is not enabled")
		return
	}
	p, ok := params(w, r, "inboxID")
	if !ok {
		return
	}
	var req IngestEventRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	event := &events.IngestEvent{
		ID:        uuid.New(),
		InboxID:   p[0],
		SourceID:  req.SourceID,
		Type:      req.Type,
		Title:     req.Title,
		Priority:  req.Priority,
		Payload:   req.Payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.emitter.EmitEvent(r.Context(), event); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, IngestEventResponse{EventID: event.ID.String()})
}

// ReleaseExpiredClaims handles POST /api/admin/release-expired.
func (h *TaskHandler) ReleaseExpiredClaims(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ReleaseExpiredClaims(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CountResponse{Count: n})
}

// GetTask handles GET /api/tasks/{taskID}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "taskID")
	if !ok {
		return
	}
	task, err := h.svc.GetTask(r.Context(), p[0])
	if err == nil && task == nil {
		err = inbox.ErrTaskNotFound
	}
	h.respondTask(w, r, http.StatusOK, task, err)
}

// UpdateTask handles PATCH /api/tasks/{taskID}.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "taskID")
	if !ok {
		return
	}
	var req UpdateTaskRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	task, err := h.svc.UpdateTask(r.Context(), p[0], inbox.UpdateTaskInput{RunID: req.RunID, Metadata: req.Metadata})
	h.respondTask(w, r, http.StatusOK, task, err)
}

// DeleteTask handles DELETE /api/tasks/{taskID}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "taskID")
	if !ok {
		return
	}
	if err := h.svc.DeleteTask(r.Context(), p[0]); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReleaseTask handles POST /api/tasks/{taskID}/release.
func (h *TaskHandler) ReleaseTask(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "taskID")
	if !ok {
		return
	}
	task, err := h.svc.ReleaseTask(r.Context(), p[0])
	h.respondTask(w, r, http.StatusOK, task, err)
}

// StartTask handles POST /api/tasks/{taskID}/start.
func (h *TaskHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "taskID")
	if !ok {
		return
	}
	task, err := h.svc.StartTask(r.Context(), p[0])
	h.respondTask(w, r, http.StatusOK, task, err)
}

// CompleteTask handles POST /api/tasks/{taskID}/complete.
func (h *TaskHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "taskID")
	if !ok {
		return
	}
	var req CompleteTaskRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	task, err := h.svc.CompleteTask(r.Context(), p[0], req.Result)
	h.respondTask(w, r, http.StatusOK, task, err)
}

// FailTask handles POST /api/tasks/{taskID}/fail.
func (h *TaskHandler) FailTask(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "taskID")
	if !ok {
		return
	}
	var req FailTaskRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	task, err := h.svc.FailTask(r.Context(), p[0], inbox.FailTaskInput{
		Error:       domain.TaskError{Message: req.Message, Stack: req.Stack, Retryable: req.Retryable},
		RetryConfig: req.Retry.Params(),
	})
	h.respondTask(w, r, http.StatusOK, task, err)
}

// CancelTask handles POST /api/tasks/{taskID}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "taskID")
	if !ok {
		return
	}
	task, err := h.svc.CancelTask(r.Context(), p[0])
	h.respondTask(w, r, http.StatusOK, task, err)
}

// SuspendTask handles POST /api/tasks/{taskID}/suspend.
func (h *TaskHandler) SuspendTask(w http.ResponseWriter, r *http.Request) {
	h.payloadTransition(w, r, h.svc.SuspendTask)
}

// ResumeTask handles POST /api/tasks/{taskID}/resume.
func (h *TaskHandler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	h.payloadTransition(w, r, h.svc.ResumeTask)
}

func (h *TaskHandler) payloadTransition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, taskID string, payload json.RawMessage) (*domain.Task, error),
) {
	p, ok := params(w, r, "taskID")
	if !ok {
		return
	}
	var req PayloadRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	task, err := op(r.Context(), p[0], req.Payload)
	h.respondTask(w, r, http.StatusOK, task, err)
}
