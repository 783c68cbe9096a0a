package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/task-inbox/internal/redact"
	"github.com/phrazzld/task-inbox/internal/store"
)

// PostgreSQL error codes
const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
	notNullViolationCode    = "23502"
)

// MapError maps a database error to a store sentinel.
// Errors without a specific mapping are returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case foreignKeyViolationCode:
			return fmt.Errorf("%w: foreign key violation (%s): %v",
				store.ErrInvalidEntity, pgErr.ConstraintName, err)
		case checkViolationCode:
			return fmt.Errorf("%w: check constraint violation (%s): %v",
				store.ErrInvalidEntity, pgErr.ConstraintName, err)
		case notNullViolationCode:
			return fmt.Errorf("%w: not null violation (%s): %v",
				store.ErrInvalidEntity, pgErr.ColumnName, err)
		}
	}

	return err
}

// IsUniqueViolation checks if the given error is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// sentinelFor picks the store sentinel a caller may match on. Context errors
// pass through so cancellation stays recognisable.
func sentinelFor(err error) error {
	mapped := MapError(err)
	switch {
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	case errors.Is(mapped, store.ErrNotFound):
		return store.ErrTaskNotFound
	case errors.Is(mapped, store.ErrDuplicate):
		return store.ErrDuplicate
	case errors.Is(mapped, store.ErrInvalidEntity):
		return store.ErrInvalidEntity
	case errors.Is(err, store.ErrTransactionFailed):
		return store.ErrTransactionFailed
	default:
		return store.ErrStorage
	}
}

// newTaskError wraps a driver error in a StoreError whose message is redacted
// and whose cause is a store sentinel, so the raw driver error is not reachable.
func newTaskError(operation, id string, err error) *store.StoreError {
	return &store.StoreError{
		Entity:    "task",
		Operation: operation,
		ID:        id,
		Message:   redact.Error(err),
		Err:       sentinelFor(err),
	}
}

// checkRowsAffected returns store.ErrTaskNotFound when result touched no rows.
func checkRowsAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}
