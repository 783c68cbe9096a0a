package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/task-inbox/internal/api/shared"
	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/events"
	"github.com/phrazzld/task-inbox/internal/service/auth"
	"github.com/phrazzld/task-inbox/internal/service/inbox"
	"github.com/phrazzld/task-inbox/internal/store"
)

// ErrMissingAgent is returned when a protected handler runs without an
// authenticated agent in the request context.
var ErrMissingAgent = errors.New("agent not authenticated")

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, store.ErrNoTaskAvailable):
		return http.StatusNoContent

	case errors.Is(err, ErrMissingAgent),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	case errors.Is(err, inbox.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, inbox.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.As(err, &verrs),
		errors.Is(err, inbox.ErrInvalidInput),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, events.ErrInvalidEvent),
		errors.Is(err, shared.ErrEmptyBody):
		return http.StatusBadRequest

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err that never
// includes storage or driver details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var (
		verrs validator.ValidationErrors
		svc   *inbox.ServiceError
		trans *domain.TransitionError
	)
	switch {
	case errors.As(err, &verrs):
		return SanitizeValidationError(verrs)
	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"
	case errors.Is(err, ErrMissingAgent):
		return "Agent not authenticated"
	case errors.Is(err, inbox.ErrTaskNotFound), errors.Is(err, store.ErrNotFound):
		return "Task not found"
	case errors.As(err, &trans):
		return fmt.Sprintf("Task cannot move from %s to %s", trans.From, trans.To)
	case errors.Is(err, store.ErrDuplicate):
		return "Task already exists"
	case errors.As(err, &svc) && errors.Is(err, inbox.ErrInvalidInput):
		return "Invalid request: " + svc.Message
	case errors.Is(err, events.ErrInvalidEvent):
		return "Invalid event"
	case errors.Is(err, inbox.ErrInvalidInput), errors.Is(err, domain.ErrValidation):
		return "Invalid request"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator failures into a message naming the
// offending fields and rules.
func SanitizeValidationError(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "Validation error"
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), getValidationTagMessage(fe.Tag())))
	}
	return "Invalid " + strings.Join(parts, ", ")
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "url":
		return "invalid URL"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "gte", "gt":
		return "too small"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err. message
// overrides the safe message when non-empty.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
