package task

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/phrazzld/task-inbox/internal/domain"
)

// Handler executes one task. The returned result is stored when the task completes.
//
// Returning an error fails the attempt; the inbox retries it unless the error is
// marked with Permanent. Returning the error from Suspend parks the task until it
// is resumed.
type Handler interface {
	Handle(ctx context.Context, task *domain.Task) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *domain.Task) (json.RawMessage, error)

// Handle calls f(ctx, task).
func (f HandlerFunc) Handle(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	return f(ctx, task)
}

// SuspendError asks the runner to park the task with Payload.
type SuspendError struct {
	Payload json.RawMessage
}

// Error implements the error interface.
func (e *SuspendError) Error() string {
	return "task suspended awaiting input"
}

// Suspend returns an error that parks the task in WAITING_FOR_INPUT with payload.
func Suspend(payload json.RawMessage) error {
	return &SuspendError{Payload: payload}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
