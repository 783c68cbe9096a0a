package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a lifecycle operation is not permitted
// from the task's current status.
var ErrInvalidTransition = errors.New("invalid task state transition")

// TransitionError describes a rejected status change.
type TransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: task %s cannot move from %s to %s", ErrInvalidTransition, e.TaskID, e.From, e.To)
}

// Unwrap allows errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func (t *Task) invalid(to TaskStatus) error {
	return &TransitionError{TaskID: t.ID, From: t.Status, To: to}
}

// clearClaim resets ownership so the task is ready to be claimed again.
func (t *Task) clearClaim() {
	t.ClaimedBy = nil
	t.ClaimedAt = nil
	t.ClaimExpiresAt = nil
	t.RunID = nil
}

// Claim hands a pending task to agentID for the lease duration.
func (t *Task) Claim(agentID string, now time.Time, lease time.Duration) error {
	switch t.Status {
	case TaskStatusPending:
	case TaskStatusClaimed, TaskStatusInProgress, TaskStatusWaitingForInput,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return t.invalid(TaskStatusClaimed)
	default:
		return t.invalid(TaskStatusClaimed)
	}
	if agentID == "" {
		return fmt.Errorf("%w: claiming agent ID cannot be empty", ErrValidation)
	}

	now = now.UTC()
	expires := now.Add(lease)
	t.Status = TaskStatusClaimed
	t.ClaimedBy = &agentID
	t.ClaimedAt = &now
	t.ClaimExpiresAt = &expires
	return nil
}

// Release returns a claimed task to the pending pool without counting a failure.
func (t *Task) Release() error {
	switch t.Status {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusInProgress, TaskStatusWaitingForInput:
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return t.invalid(TaskStatusPending)
	default:
		return t.invalid(TaskStatusPending)
	}
	t.Status = TaskStatusPending
	t.clearClaim()
	return nil
}

// SetRunID records the execution run of a task an agent currently holds.
// Pending and terminal tasks have no run to record.
func (t *Task) SetRunID(runID string) error {
	switch t.Status {
	case TaskStatusClaimed, TaskStatusInProgress, TaskStatusWaitingForInput:
	case TaskStatusPending, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return fmt.Errorf("%w: task %s is %s and cannot record a run ID", ErrInvalidTransition, t.ID, t.Status)
	default:
		return fmt.Errorf("%w: task %s is %s and cannot record a run ID", ErrInvalidTransition, t.ID, t.Status)
	}
	if runID == "" {
		return fmt.Errorf("%w: run ID cannot be empty", ErrValidation)
	}
	t.RunID = &runID
	return nil
}

// Start marks a claimed task as running.
func (t *Task) Start(now time.Time) error {
	switch t.Status {
	case TaskStatusClaimed:
	case TaskStatusPending, TaskStatusInProgress, TaskStatusWaitingForInput,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return t.invalid(TaskStatusInProgress)
	default:
		return t.invalid(TaskStatusInProgress)
	}
	now = now.UTC()
	t.Status = TaskStatusInProgress
	t.StartedAt = &now
	return nil
}

// Complete records a successful result.
func (t *Task) Complete(result json.RawMessage, now time.Time) error {
	switch t.Status {
	case TaskStatusInProgress:
	case TaskStatusPending, TaskStatusClaimed, TaskStatusWaitingForInput,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return t.invalid(TaskStatusCompleted)
	default:
		return t.invalid(TaskStatusCompleted)
	}
	now = now.UTC()
	t.Status = TaskStatusCompleted
	t.Result = result
	t.CompletedAt = &now
	t.ClaimExpiresAt = nil
	return nil
}

// Fail records a failed attempt. When taskErr permits a retry and the attempt ceiling
// has not been reached the task returns to pending with NextRetryAt = now + delay(newAttempts);
// otherwise it becomes terminally failed. It reports whether the task will be retried.
func (t *Task) Fail(taskErr TaskError, delay func(attempt int) time.Duration, now time.Time) (bool, error) {
	switch t.Status {
	case TaskStatusClaimed, TaskStatusInProgress:
	case TaskStatusPending, TaskStatusWaitingForInput,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return false, t.invalid(TaskStatusFailed)
	default:
		return false, t.invalid(TaskStatusFailed)
	}

	now = now.UTC()
	newAttempts := t.Attempts + 1
	t.Attempts = newAttempts

	retry := taskErr.IsRetryable() && newAttempts < t.MaxAttempts
	taskErr.Retryable = &retry
	t.Error = &taskErr

	if retry {
		next := now.Add(delay(newAttempts))
		t.Status = TaskStatusPending
		t.NextRetryAt = &next
		t.clearClaim()
		return true, nil
	}

	t.Status = TaskStatusFailed
	t.CompletedAt = &now
	t.ClaimExpiresAt = nil
	return false, nil
}

// Cancel stops a task from any non-terminal state.
func (t *Task) Cancel(now time.Time) error {
	switch t.Status {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusInProgress, TaskStatusWaitingForInput:
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return t.invalid(TaskStatusCancelled)
	default:
		return t.invalid(TaskStatusCancelled)
	}
	now = now.UTC()
	t.Status = TaskStatusCancelled
	t.CompletedAt = &now
	t.ClaimExpiresAt = nil
	return nil
}

// Suspend parks a running task until an external resume supplies input.
func (t *Task) Suspend(payload json.RawMessage, now time.Time) error {
	switch t.Status {
	case TaskStatusInProgress:
	case TaskStatusPending, TaskStatusClaimed, TaskStatusWaitingForInput,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return t.invalid(TaskStatusWaitingForInput)
	default:
		return t.invalid(TaskStatusWaitingForInput)
	}
	now = now.UTC()
	t.Status = TaskStatusWaitingForInput
	t.SuspendPayload = payload
	t.SuspendedAt = &now
	return nil
}

// Resume continues a suspended task with the supplied input.
func (t *Task) Resume(payload json.RawMessage) error {
	switch t.Status {
	case TaskStatusWaitingForInput:
	case TaskStatusPending, TaskStatusClaimed, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return t.invalid(TaskStatusInProgress)
	default:
		return t.invalid(TaskStatusInProgress)
	}
	t.Status = TaskStatusInProgress
	t.ResumePayload = payload
	return nil
}

// IsClaimable reports whether a worker named agentID may claim the task at now.
func (t *Task) IsClaimable(agentID string, now time.Time) bool {
	if t.Status != TaskStatusPending {
		return false
	}
	if t.NextRetryAt != nil && t.NextRetryAt.After(now) {
		return false
	}
	if t.TargetAgentID != nil && *t.TargetAgentID != agentID {
		return false
	}
	return true
}
