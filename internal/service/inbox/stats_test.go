package inbox_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/service/inbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStats_ConsistentThroughLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	total := int64(0)
	check := func(step string, want domain.InboxStats) {
		t.Helper()
		got, err := f.svc.GetStats(ctx, "inbox")
		require.NoError(t, err)
		assert.Equal(t, want, got, step)
		assert.Equal(t, total, got.Total(), step)
	}

	var ids []string
	for i := 0; i < 4; i++ {
		task, err := f.svc.CreateTask(ctx, "inbox", inbox.CreateTaskInput{Type: "t", Priority: 4 - i, MaxAttempts: 1})
		require.NoError(t, err)
		ids = append(ids, task.ID)
		total++
	}
	check("created", domain.InboxStats{Pending: 4})

	for i := 0; i < 3; i++ {
		require.NotNil(t, claim(t, f, "w"))
	}
	check("claimed", domain.InboxStats{Pending: 1, Claimed: 3})

	_, err := f.svc.StartTask(ctx, ids[0])
	require.NoError(t, err)
	_, err = f.svc.StartTask(ctx, ids[1])
	require.NoError(t, err)
	check("started", domain.InboxStats{Pending: 1, Claimed: 1, InProgress: 2})

	_, err = f.svc.CompleteTask(ctx, ids[0], json.RawMessage(`1`))
	require.NoError(t, err)
	_, err = f.svc.SuspendTask(ctx, ids[1], nil)
	require.NoError(t, err)
	check("finished one", domain.InboxStats{Pending: 1, Claimed: 1, WaitingForInput: 1, Completed: 1})

	_, err = f.svc.FailTask(ctx, ids[2], inbox.FailTaskInput{Error: domain.TaskError{Message: "x"}})
	require.NoError(t, err)
	_, err = f.svc.CancelTask(ctx, ids[3])
	require.NoError(t, err)
	check("failed and cancelled", domain.InboxStats{WaitingForInput: 1, Completed: 1, Failed: 2})

	require.NoError(t, f.svc.DeleteTask(ctx, ids[0]))
	total--
	check("deleted", domain.InboxStats{WaitingForInput: 1, Failed: 2})

	empty, err := f.svc.GetStats(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, empty.Total())
}

func TestGetStatsByInbox(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, inboxID := range []string{"a", "a", "b"} {
		_, err := f.svc.CreateTask(ctx, inboxID, inbox.CreateTaskInput{Type: "t"})
		require.NoError(t, err)
	}
	_, err := f.svc.ClaimTask(ctx, inbox.ClaimRequest{InboxID: "b", AgentID: "w"})
	require.NoError(t, err)

	stats, err := f.svc.GetStatsByInbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.InboxStats{
		"a": {Pending: 2},
		"b": {Claimed: 1},
	}, stats)
}
