package logger_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/phrazzld/task-inbox/internal/config"
	"github.com/phrazzld/task-inbox/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
		ok    bool
	}{
		{"debug", "debug", slog.LevelDebug, true},
		{"mixed case", "WaRn", slog.LevelWarn, true},
		{"error", "error", slog.LevelError, true},
		{"info", "info", slog.LevelInfo, true},
		{"unknown", "verbose", slog.LevelInfo, false},
		{"empty", "", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := logger.ParseLevel(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSetup_InstallsDefault(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	l, err := logger.Setup(config.ServerConfig{LogLevel: "error"})
	require.NoError(t, err)
	require.NotNil(t, l)

	assert.Same(t, l, slog.Default())
	assert.False(t, l.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, l.Enabled(context.Background(), slog.LevelError))
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	l, buf := logger.GetTestLogger(t)
	fallback := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.Same(t, fallback, logger.FromContextOrDefault(context.Background(), fallback))

	ctx := logger.WithLogger(context.Background(), l)
	assert.Same(t, l, logger.FromContextOrDefault(ctx, fallback))

	ctx = logger.WithRequestID(ctx, "req-42")
	assert.Equal(t, "req-42", logger.RequestIDFromContext(ctx))

	logger.FromContext(ctx).Info("claimed", slog.String("task_id", "t-1"))

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "claimed", entries[0]["msg"])
	assert.Equal(t, "req-42", entries[0]["request_id"])
	assert.Equal(t, "t-1", entries[0]["task_id"])
}

func TestTestLogBuffer(t *testing.T) {
	t.Parallel()

	ctx, buf := logger.NewTestContext(t)
	logger.FromContext(ctx).Debug("first")
	logger.FromContext(ctx).Warn("second", slog.Int("n", 2))

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[1]["level"])
	assert.Equal(t, float64(2), entries[1]["n"])
	logger.AssertLogContains(t, buf, "first")

	buf.Reset()
	assert.Empty(t, buf.String())
}
