package inbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/platform/logger"
	"github.com/phrazzld/task-inbox/internal/store"
)

// newTask builds a PENDING task from input without persisting it.
func (s *service) newTask(inboxID string, input CreateTaskInput) (*domain.Task, error) {
	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}

	task, err := domain.NewTask(input.ID, inboxID, input.Type, input.Payload, maxAttempts, s.now())
	if err != nil {
		return nil, err
	}
	task.SourceID = input.SourceID
	task.Title = input.Title
	task.SourceURL = input.SourceURL
	task.Priority = input.Priority
	task.TargetAgentID = input.TargetAgentID
	task.Metadata = domain.MergeMetadata(nil, input.Metadata)
	return task, nil
}

// CreateTask implements Service.CreateTask.
func (s *service) CreateTask(ctx context.Context, inboxID string, input CreateTaskInput) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := s.newTask(inboxID, input)
	if err != nil {
		log.Debug("rejected task input", slog.String("inbox_id", inboxID), slog.String("error", err.Error()))
		return nil, wrapError("create_task", input.ID, err)
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, wrapError("create_task", task.ID, err)
	}

	log.Info("task created",
		slog.String("task_id", task.ID),
		slog.String("inbox_id", inboxID),
		slog.String("type", task.Type),
		slog.Int("priority", task.Priority))
	s.recorder.TaskTransitioned(inboxID, task.Status)
	return task, nil
}

// CreateTasks implements Service.CreateTasks.
func (s *service) CreateTasks(ctx context.Context, inboxID string, inputs []CreateTaskInput) ([]*domain.Task, error) {
	created := make([]*domain.Task, 0, len(inputs))
	for _, input := range inputs {
		task, err := s.CreateTask(ctx, inboxID, input)
		if err != nil {
			return created, err
		}
		created = append(created, task)
	}
	return created, nil
}

// UpsertTask implements Service.UpsertTask.
//
// Two ingestions of a new source ID may race to insert it. The loser's insert
// hits the unique index, its transaction rolls back, and the second pass finds
// and refreshes the winner's row.
func (s *service) UpsertTask(ctx context.Context, inboxID, sourceID string, input CreateTaskInput) (*domain.Task, error) {
	if sourceID == "" {
		return nil, invalidInput("upsert_task", "source ID cannot be empty")
	}
	if inboxID == "" {
		return nil, invalidInput("upsert_task", "inbox ID cannot be empty")
	}
	if input.Type == "" {
		return nil, invalidInput("upsert_task", "task type cannot be empty")
	}

	input.SourceID = &sourceID

	var (
		task    *domain.Task
		created bool
		err     error
	)
	for pass := 0; pass < 2; pass++ {
		task, created, err = s.upsertOnce(ctx, inboxID, sourceID, input)
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
		logger.FromContextOrDefault(ctx, s.logger).Debug("lost upsert race, re-reading",
			slog.String("inbox_id", inboxID),
			slog.String("source_id", sourceID))
	}
	if err != nil {
		return nil, wrapError("upsert_task", "", err)
	}

	if created {
		s.recorder.TaskTransitioned(inboxID, task.Status)
	}
	return task, nil
}

func (s *service) upsertOnce(ctx context.Context, inboxID, sourceID string, input CreateTaskInput) (*domain.Task, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var (
		result  *domain.Task
		created bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		existing, err := tx.GetTaskBySourceID(ctx, inboxID, sourceID)
		switch {
		case err == nil:
			result = existing
			if existing.Status == domain.TaskStatusCompleted || existing.Status == domain.TaskStatusCancelled {
				log.Debug("upsert left finished task unchanged",
					slog.String("task_id", existing.ID),
					slog.String("status", existing.Status.String()))
				return nil
			}
			existing.Type = input.Type
			existing.Payload = input.Payload
			existing.Title = input.Title
			existing.SourceURL = input.SourceURL
			existing.Priority = input.Priority
			existing.Metadata = domain.MergeMetadata(existing.Metadata, input.Metadata)
			if err := tx.UpdateTask(ctx, existing); err != nil {
				return err
			}
			log.Info("task refreshed by upsert",
				slog.String("task_id", existing.ID),
				slog.String("source_id", sourceID))
			return nil

		case errors.Is(err, store.ErrNotFound):
			task, err := s.newTask(inboxID, input)
			if err != nil {
				return err
			}
			if err := tx.CreateTask(ctx, task); err != nil {
				return err
			}
			result, created = task, true
			log.Info("task created by upsert",
				slog.String("task_id", task.ID),
				slog.String("source_id", sourceID))
			return nil

		default:
			return err
		}
	})
	return result, created, err
}
