package inbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/store"
)

// Sentinel errors callers can match with errors.Is.
var (
	// ErrTaskNotFound indicates that the addressed task does not exist.
	ErrTaskNotFound = fmt.Errorf("inbox: %w", store.ErrTaskNotFound)

	// ErrInvalidState indicates that the task's status does not permit the operation.
	// The wrapped *domain.TransitionError is reachable through errors.As.
	ErrInvalidState = fmt.Errorf("inbox: %w", domain.ErrInvalidTransition)

	// ErrInvalidInput indicates a request that fails validation before reaching the store.
	ErrInvalidInput = fmt.Errorf("inbox: %w", domain.ErrValidation)
)

// ServiceError wraps errors from the inbox service with the failing operation.
// This allows consumers to differentiate between different kinds of failure
// using errors.Is and errors.As instead of string matching.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "claim_task", "fail_task")
	Operation string
	// TaskID identifies the addressed task, if any
	TaskID string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	op := e.Operation
	if e.TaskID != "" {
		op = fmt.Sprintf("%s on task %s", e.Operation, e.TaskID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", op, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// wrapError classifies err for the caller. Store errors reach here already
// redacted, so their text is safe to carry.
func wrapError(operation, taskID string, err error) error {
	if err == nil {
		return nil
	}
	se := &ServiceError{Operation: operation, TaskID: taskID}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		se.Message = "operation cancelled"
		se.Err = err
	case errors.Is(err, store.ErrNotFound):
		se.Message = "task not found"
		se.Err = ErrTaskNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		se.Message = "invalid task state"
		se.Err = fmt.Errorf("%w: %w", ErrInvalidState, err)
	case errors.Is(err, domain.ErrValidation):
		se.Message = "invalid task"
		se.Err = fmt.Errorf("%w: %w", ErrInvalidInput, err)
	case errors.Is(err, store.ErrDuplicate):
		se.Message = "task already exists"
		se.Err = err
	default:
		se.Message = "storage operation failed"
		se.Err = err
	}
	return se
}

func invalidInput(operation, message string) error {
	return &ServiceError{Operation: operation, Message: message, Err: ErrInvalidInput}
}
