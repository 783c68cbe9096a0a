package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/platform/memory"
	"github.com/phrazzld/task-inbox/internal/service/inbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	mu        sync.Mutex
	calls     int
	snapshots []map[string]domain.InboxStats
}

func (f *fakeStats) SetInboxStats(snapshot map[string]domain.InboxStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.snapshots = append(f.snapshots, snapshot)
}

func (f *fakeStats) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweeper_SweepReleasesExpiredClaims(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var mu sync.Mutex
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	svc := inbox.NewService(memory.NewTaskStore(discard), discard, inbox.WithClock(clock))

	expired, err := svc.CreateTask(ctx, "inbox", inbox.CreateTaskInput{Type: "t"})
	require.NoError(t, err)
	claimed, err := svc.ClaimTask(ctx, inbox.ClaimRequest{InboxID: "inbox", AgentID: "w", ClaimTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, expired.ID, claimed.ID)

	fresh, err := svc.CreateTask(ctx, "inbox", inbox.CreateTaskInput{Type: "t"})
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, err = svc.ClaimTask(ctx, inbox.ClaimRequest{InboxID: "inbox", AgentID: "w", ClaimTimeout: time.Hour})
	require.NoError(t, err)

	stats := &fakeStats{}
	sweeper, err := NewSweeper(svc, "", stats, discard)
	require.NoError(t, err)
	require.NoError(t, sweeper.Sweep(ctx))

	released, err := svc.GetTask(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, released.Status)
	assert.Nil(t, released.ClaimedBy)

	stillHeld, err := svc.GetTask(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusClaimed, stillHeld.Status)

	require.Equal(t, 1, stats.count())
	assert.Equal(t, domain.InboxStats{Pending: 1, Claimed: 1}, stats.snapshots[0]["inbox"])
}

func TestSweeper_NilStatsIsAllowed(t *testing.T) {
	t.Parallel()
	sweeper, err := NewSweeper(newTestService(t), DefaultSweepSchedule, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, sweeper.Sweep(context.Background()))
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	t.Parallel()
	_, err := NewSweeper(newTestService(t), "every now and then", nil, discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid sweep schedule "every now and then"`)

	// Five fields are rejected because the parser requires seconds.
	_, err = NewSweeper(newTestService(t), "*/5 * * * *", nil, discard)
	assert.Error(t, err)
}

func TestSweeper_StartRunsSchedule(t *testing.T) {
	t.Parallel()
	stats := &fakeStats{}
	sweeper, err := NewSweeper(newTestService(t), "* * * * * *", stats, discard)
	require.NoError(t, err)

	sweeper.Start()
	require.Eventually(t, func() bool { return stats.count() > 0 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sweeper.Stop(ctx)
}
