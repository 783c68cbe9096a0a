package task

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/domain/backoff"
	"github.com/phrazzld/task-inbox/internal/platform/memory"
	"github.com/phrazzld/task-inbox/internal/service/inbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestService(t *testing.T) inbox.Service {
	t.Helper()
	return inbox.NewService(memory.NewTaskStore(discard), discard,
		inbox.WithBackoff(&backoff.Params{BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}))
}

func testConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:  3,
		InboxID:      "inbox",
		AgentID:      "agent",
		PollInterval: 5 * time.Millisecond,
		ClaimTimeout: time.Minute,
	}
}

func waitForStatus(t *testing.T, svc inbox.Service, id string, want domain.TaskStatus) *domain.Task {
	t.Helper()
	var last *domain.Task
	require.Eventually(t, func() bool {
		task, err := svc.GetTask(context.Background(), id)
		if err != nil || task == nil {
			return false
		}
		last = task
		return task.Status == want
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return last
}

func TestRunner_CompletesTasks(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	var handled atomic.Int32
	runner := NewRunner(svc, testConfig(), discard)
	runner.Register("echo", HandlerFunc(func(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
		handled.Add(1)
		if task.RunID == nil {
			return nil, errors.New("run ID not recorded before handling")
		}
		return task.Payload, nil
	}))

	var ids []string
	for i := 0; i < 10; i++ {
		task, err := svc.CreateTask(ctx, "inbox", inbox.CreateTaskInput{Type: "echo", Payload: json.RawMessage(`{"n":1}`)})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	require.NoError(t, runner.Start())
	defer runner.Stop()

	for _, id := range ids {
		done := waitForStatus(t, svc, id, domain.TaskStatusCompleted)
		assert.JSONEq(t, `{"n":1}`, string(done.Result))
		assert.Equal(t, "agent", *done.ClaimedBy)
	}
	assert.Equal(t, int32(10), handled.Load(), "each task handled once")
}

func TestRunner_Outcomes(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	var flakyCalls atomic.Int32
	runner := NewRunner(svc, testConfig(), discard)
	runner.Register("flaky", HandlerFunc(func(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
		if flakyCalls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return json.RawMessage(`"ok"`), nil
	}))
	runner.Register("broken", HandlerFunc(func(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
		return nil, Permanent(errors.New("malformed payload"))
	}))
	runner.Register("approval", HandlerFunc(func(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
		return nil, Suspend(json.RawMessage(`{"ask":"approve"}`))
	}))
	runner.Register("panics", HandlerFunc(func(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
		panic("boom")
	}))

	create := func(taskType string, maxAttempts int) string {
		task, err := svc.CreateTask(ctx, "inbox", inbox.CreateTaskInput{Type: taskType, MaxAttempts: maxAttempts})
		require.NoError(t, err)
		return task.ID
	}
	flaky := create("flaky", 5)
	broken := create("broken", 5)
	approval := create("approval", 5)
	panics := create("panics", 1)

	require.NoError(t, runner.Start())
	defer runner.Stop()

	done := waitForStatus(t, svc, flaky, domain.TaskStatusCompleted)
	assert.Equal(t, 2, done.Attempts)

	failed := waitForStatus(t, svc, broken, domain.TaskStatusFailed)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, "malformed payload", failed.Error.Message)
	assert.False(t, *failed.Error.Retryable)

	waiting := waitForStatus(t, svc, approval, domain.TaskStatusWaitingForInput)
	assert.JSONEq(t, `{"ask":"approve"}`, string(waiting.SuspendPayload))

	crashed := waitForStatus(t, svc, panics, domain.TaskStatusFailed)
	assert.Contains(t, crashed.Error.Message, "handler panicked: boom")
	assert.NotEmpty(t, crashed.Error.Stack)
}

// failingUpdates rejects the first n UpdateTask calls.
type failingUpdates struct {
	inbox.Service
	remaining atomic.Int32
}

func (s *failingUpdates) UpdateTask(ctx context.Context, taskID string, input inbox.UpdateTaskInput) (*domain.Task, error) {
	if s.remaining.Add(-1) >= 0 {
		return nil, errors.New("storage unavailable")
	}
	return s.Service.UpdateTask(ctx, taskID, input)
}

func TestRunner_ReleasesTaskWhenRunIDCannotBeRecorded(t *testing.T) {
	t.Parallel()
	svc := &failingUpdates{Service: newTestService(t)}
	svc.remaining.Store(1)

	task, err := svc.CreateTask(context.Background(), "inbox", inbox.CreateTaskInput{Type: TypeEcho, Payload: json.RawMessage(`1`)})
	require.NoError(t, err)

	var handled atomic.Int32
	cfg := testConfig()
	cfg.WorkerCount = 1
	runner := NewRunner(svc, cfg, discard)
	runner.Register(TypeEcho, HandlerFunc(func(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
		handled.Add(1)
		return task.Payload, nil
	}))
	require.NoError(t, runner.Start())
	defer runner.Stop()

	done := waitForStatus(t, svc, task.ID, domain.TaskStatusCompleted)
	assert.Equal(t, int32(1), handled.Load(), "handler runs once, after the task is handed back")
	assert.Zero(t, done.Attempts, "a release is not a failed attempt")
	assert.NotNil(t, done.RunID)
}

func TestRunner_OnlyClaimsHandledTypes(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	other, err := svc.CreateTask(ctx, "inbox", inbox.CreateTaskInput{Type: "other", Priority: 10})
	require.NoError(t, err)
	mine, err := svc.CreateTask(ctx, "inbox", inbox.CreateTaskInput{Type: "mine"})
	require.NoError(t, err)

	runner := NewRunner(svc, testConfig(), discard)
	runner.Register("mine", HandlerFunc(func(context.Context, *domain.Task) (json.RawMessage, error) {
		return nil, nil
	}))
	require.NoError(t, runner.Start())

	waitForStatus(t, svc, mine.ID, domain.TaskStatusCompleted)
	runner.Stop()

	untouched, err := svc.GetTask(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, untouched.Status)
}

func TestRunner_UnhandledConfiguredTypeFailsPermanently(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	task, err := svc.CreateTask(context.Background(), "inbox", inbox.CreateTaskInput{Type: "unknown"})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Types = []string{"unknown"}
	runner := NewRunner(svc, cfg, discard)
	require.NoError(t, runner.Start())
	defer runner.Stop()

	failed := waitForStatus(t, svc, task.ID, domain.TaskStatusFailed)
	assert.Contains(t, failed.Error.Message, `no handler registered for task type "unknown"`)
}

func TestRunner_StopWaitsForInFlightTask(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	task, err := svc.CreateTask(context.Background(), "inbox", inbox.CreateTaskInput{Type: "slow"})
	require.NoError(t, err)

	started := make(chan struct{})
	cfg := testConfig()
	cfg.WorkerCount = 1
	runner := NewRunner(svc, cfg, discard)
	runner.Register("slow", HandlerFunc(func(ctx context.Context, _ *domain.Task) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.NoError(t, runner.Start())

	<-started
	runner.Stop()

	stored, err := svc.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status, "cancelled run is reported as a retryable failure")
	assert.Equal(t, 1, stored.Attempts)
}

func TestRunner_StartValidation(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	noop := HandlerFunc(func(context.Context, *domain.Task) (json.RawMessage, error) { return nil, nil })

	cfg := testConfig()
	cfg.InboxID = ""
	r := NewRunner(svc, cfg, discard)
	r.Register("t", noop)
	assert.Error(t, r.Start())

	cfg = testConfig()
	cfg.AgentID = ""
	r = NewRunner(svc, cfg, discard)
	r.Register("t", noop)
	assert.Error(t, r.Start())

	r = NewRunner(svc, testConfig(), discard)
	assert.Error(t, r.Start(), "no handlers")

	r = NewRunner(svc, testConfig(), discard)
	r.Register("t", noop)
	require.NoError(t, r.Start())
	assert.Error(t, r.Start(), "already started")
	r.Stop()
}

func TestNewRunner_Defaults(t *testing.T) {
	t.Parallel()
	r := NewRunner(newTestService(t), RunnerConfig{InboxID: "a", AgentID: "b"}, nil)
	assert.Equal(t, 1, r.config.WorkerCount)
	assert.Equal(t, time.Second, r.config.PollInterval)
}

func TestPermanentAndSuspend(t *testing.T) {
	t.Parallel()

	base := errors.New("bad")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "bad", err.Error())
	assert.False(t, IsPermanent(base))
	assert.NoError(t, Permanent(nil))

	var se *SuspendError
	require.True(t, errors.As(Suspend(json.RawMessage(`1`)), &se))
	assert.JSONEq(t, `1`, string(se.Payload))
}

func TestRegisterBuiltins_Echo(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	task, err := svc.CreateTask(context.Background(), "inbox", inbox.CreateTaskInput{
		Type:    TypeEcho,
		Payload: json.RawMessage(`{"ping":true}`),
	})
	require.NoError(t, err)

	runner := NewRunner(svc, testConfig(), discard)
	RegisterBuiltins(runner)
	require.NoError(t, runner.Start())
	defer runner.Stop()

	done := waitForStatus(t, svc, task.ID, domain.TaskStatusCompleted)
	assert.JSONEq(t, `{"ping":true}`, string(done.Result))
}
