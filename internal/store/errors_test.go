package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "generic error", err: errors.New("some error"), expected: false},
		{name: "ErrNotFound", err: ErrNotFound, expected: true},
		{name: "ErrTaskNotFound", err: ErrTaskNotFound, expected: true},
		{name: "wrapped ErrTaskNotFound", err: fmt.Errorf("get: %w", ErrTaskNotFound), expected: true},
		{name: "store error", err: NewStoreError("task", "get", "missing", ErrTaskNotFound), expected: true},
		{name: "duplicate", err: ErrDuplicate, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNotFoundError(tt.err))
		})
	}
}

func TestIsDuplicateError(t *testing.T) {
	assert.True(t, IsDuplicateError(NewStoreError("task", "create", "conflict", ErrDuplicate)))
	assert.False(t, IsDuplicateError(ErrStorage))
	assert.False(t, IsDuplicateError(nil))
}

func TestStoreError(t *testing.T) {
	err := NewStoreError("task", "update", "write rejected", ErrStorage).WithID("t-1")

	assert.Equal(t, "update operation on task t-1 failed: write rejected: storage failure", err.Error())
	assert.ErrorIs(t, err, ErrStorage)

	var se *StoreError
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &se))
	assert.Equal(t, "t-1", se.ID)
	assert.Equal(t, "update", se.Operation)

	bare := &StoreError{Entity: "task", Operation: "list", Message: "boom"}
	assert.Equal(t, "list operation on task failed: boom", bare.Error())
	assert.Nil(t, bare.Unwrap())
}
