package inbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/domain/backoff"
	"github.com/phrazzld/task-inbox/internal/platform/logger"
	"github.com/phrazzld/task-inbox/internal/store"
)

// transition loads taskID under a row lock, applies change and writes the task
// back, all in one transaction.
func (s *service) transition(
	ctx context.Context,
	operation, taskID string,
	change func(task *domain.Task, now time.Time) error,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var (
		updated *domain.Task
		from    domain.TaskStatus
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		task, err := tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		from = task.Status
		if err := change(task, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		log.Debug("task operation rejected",
			slog.String("operation", operation),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		return nil, wrapError(operation, taskID, err)
	}

	log.Info("task transitioned",
		slog.String("operation", operation),
		slog.String("task_id", taskID),
		slog.String("inbox_id", updated.InboxID),
		slog.String("from", from.String()),
		slog.String("to", updated.Status.String()))
	if from != updated.Status {
		s.recorder.TaskTransitioned(updated.InboxID, updated.Status)
	}
	return updated, nil
}

// finished reports the run time of a task that has just left IN_PROGRESS for good.
func (s *service) finished(task *domain.Task) {
	if task.StartedAt == nil || task.CompletedAt == nil {
		return
	}
	s.recorder.TaskFinished(task.Type, task.CompletedAt.Sub(*task.StartedAt))
}

// GetTask implements Service.GetTask.
func (s *service) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, wrapError("get_task", taskID, err)
	}
	return task, nil
}

// UpdateTask implements Service.UpdateTask.
func (s *service) UpdateTask(ctx context.Context, taskID string, input UpdateTaskInput) (*domain.Task, error) {
	return s.transition(ctx, "update_task", taskID, func(task *domain.Task, _ time.Time) error {
		if input.RunID != nil {
			if err := task.SetRunID(*input.RunID); err != nil {
				return err
			}
		}
		if input.Metadata != nil {
			task.Metadata = domain.MergeMetadata(task.Metadata, input.Metadata)
		}
		return nil
	})
}

// DeleteTask implements Service.DeleteTask.
func (s *service) DeleteTask(ctx context.Context, taskID string) error {
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return wrapError("delete_task", taskID, err)
	}
	logger.FromContextOrDefault(ctx, s.logger).Info("task deleted", slog.String("task_id", taskID))
	return nil
}

// DeleteTasks implements Service.DeleteTasks.
func (s *service) DeleteTasks(ctx context.Context, filter store.DeleteFilter) (int64, error) {
	n, err := s.store.DeleteTasks(ctx, filter)
	if err != nil {
		return 0, wrapError("delete_tasks", "", err)
	}
	logger.FromContextOrDefault(ctx, s.logger).Info("tasks deleted", slog.Int64("count", n))
	return n, nil
}

// ListTasks implements Service.ListTasks.
func (s *service) ListTasks(ctx context.Context, inboxID string, filter store.ListFilter) ([]*domain.Task, error) {
	if inboxID != "" {
		filter.InboxID = &inboxID
	}
	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, wrapError("list_tasks", "", err)
	}
	return tasks, nil
}

// ListWaitingTasks implements Service.ListWaitingTasks.
func (s *service) ListWaitingTasks(ctx context.Context, inboxID *string) ([]*domain.Task, error) {
	tasks, err := s.store.ListTasks(ctx, store.ListFilter{
		InboxID:  inboxID,
		Statuses: []domain.TaskStatus{domain.TaskStatusWaitingForInput},
	})
	if err != nil {
		return nil, wrapError("list_waiting_tasks", "", err)
	}
	return tasks, nil
}

// ReleaseTask implements Service.ReleaseTask.
func (s *service) ReleaseTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.transition(ctx, "release_task", taskID, func(task *domain.Task, _ time.Time) error {
		return task.Release()
	})
}

// StartTask implements Service.StartTask.
func (s *service) StartTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.transition(ctx, "start_task", taskID, func(task *domain.Task, now time.Time) error {
		return task.Start(now)
	})
}

// CompleteTask implements Service.CompleteTask.
func (s *service) CompleteTask(ctx context.Context, taskID string, result json.RawMessage) (*domain.Task, error) {
	task, err := s.transition(ctx, "complete_task", taskID, func(task *domain.Task, now time.Time) error {
		return task.Complete(result, now)
	})
	if err != nil {
		return nil, err
	}
	s.finished(task)
	return task, nil
}

// FailTask implements Service.FailTask.
func (s *service) FailTask(ctx context.Context, taskID string, input FailTaskInput) (*domain.Task, error) {
	params := input.RetryConfig
	if params == nil {
		params = s.backoff
	}
	delay := func(attempt int) time.Duration {
		return backoff.Calculate(attempt, params)
	}

	task, err := s.transition(ctx, "fail_task", taskID, func(task *domain.Task, now time.Time) error {
		_, err := task.Fail(input.Error, delay, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if task.Status == domain.TaskStatusFailed {
		s.finished(task)
	} else {
		logger.FromContextOrDefault(ctx, s.logger).Info("task scheduled for retry",
			slog.String("task_id", task.ID),
			slog.Int("attempts", task.Attempts),
			slog.Time("next_retry_at", *task.NextRetryAt))
	}
	return task, nil
}

// CancelTask implements Service.CancelTask.
func (s *service) CancelTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.transition(ctx, "cancel_task", taskID, func(task *domain.Task, now time.Time) error {
		return task.Cancel(now)
	})
}

// SuspendTask implements Service.SuspendTask.
func (s *service) SuspendTask(ctx context.Context, taskID string, payload json.RawMessage) (*domain.Task, error) {
	return s.transition(ctx, "suspend_task", taskID, func(task *domain.Task, now time.Time) error {
		return task.Suspend(payload, now)
	})
}

// ResumeTask implements Service.ResumeTask.
func (s *service) ResumeTask(ctx context.Context, taskID string, payload json.RawMessage) (*domain.Task, error) {
	return s.transition(ctx, "resume_task", taskID, func(task *domain.Task, _ time.Time) error {
		return task.Resume(payload)
	})
}
