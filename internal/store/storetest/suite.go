// Package storetest holds a conformance suite that every store.TaskStore
// backend must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Harness provides a store and a fresh inbox ID for each subtest.
type Harness struct {
	Store   store.TaskStore
	InboxID func(t *testing.T) string
}

// base is microsecond-aligned so timestamps survive a timestamptz round trip.
var base = time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC)

func newTask(t *testing.T, inboxID string, priority int, createdAt time.Time) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("", inboxID, "email", json.RawMessage(`{"n":1}`), 3, createdAt)
	require.NoError(t, err)
	task.Priority = priority
	return task
}

func strPtr(s string) *string { return &s }

// Run executes the full suite against h.
func Run(t *testing.T, h Harness) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, h) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, h) })
	t.Run("DuplicateSource", func(t *testing.T) { testDuplicateSource(t, h) })
	t.Run("UpdateAndDelete", func(t *testing.T) { testUpdateAndDelete(t, h) })
	t.Run("OpaqueJSONVerbatim", func(t *testing.T) { testOpaqueJSONVerbatim(t, h) })
	t.Run("DeleteTasks", func(t *testing.T) { testDeleteTasks(t, h) })
	t.Run("ListTasks", func(t *testing.T) { testListTasks(t, h) })
	t.Run("ClaimNextOrdering", func(t *testing.T) { testClaimNextOrdering(t, h) })
	t.Run("ClaimNextEligibility", func(t *testing.T) { testClaimNextEligibility(t, h) })
	t.Run("ClaimNextSkipsLocked", func(t *testing.T) { testClaimNextSkipsLocked(t, h) })
	t.Run("ReleaseExpiredClaims", func(t *testing.T) { testReleaseExpiredClaims(t, h) })
	t.Run("Counts", func(t *testing.T) { testCounts(t, h) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, h) })
	t.Run("ConcurrentClaimExclusivity", func(t *testing.T) { testConcurrentClaims(t, h) })
}

func testCreateAndGet(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	task := newTask(t, inbox, 5, base)
	task.SourceID = strPtr("src-1")
	task.Title = "Reply to customer"
	task.SourceURL = strPtr("https://example.com/t/1")
	task.TargetAgentID = strPtr("agent-a")
	task.Metadata = map[string]any{"channel": "mail"}
	require.NoError(t, h.Store.CreateTask(ctx, task))

	got, err := h.Store.GetTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, inbox, got.InboxID)
	assert.Equal(t, "src-1", *got.SourceID)
	assert.Equal(t, "Reply to customer", got.Title)
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, "agent-a", *got.TargetAgentID)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.True(t, base.Equal(got.CreatedAt), "created_at %s != %s", got.CreatedAt, base)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, "mail", got.Metadata["channel"])
	assert.Nil(t, got.ClaimedBy)

	bySource, err := h.Store.GetTaskBySourceID(ctx, inbox, "src-1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, bySource.ID)
}

func testNotFound(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	_, err := h.Store.GetTaskByID(ctx, "missing-"+inbox)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)

	var storeErr *store.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "task", storeErr.Entity)

	_, err = h.Store.GetTaskBySourceID(ctx, inbox, "nope")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	ghost := newTask(t, inbox, 0, base)
	assert.ErrorIs(t, h.Store.UpdateTask(ctx, ghost), store.ErrTaskNotFound)
	assert.ErrorIs(t, h.Store.DeleteTask(ctx, ghost.ID), store.ErrTaskNotFound)
}

func testDuplicateSource(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	first := newTask(t, inbox, 0, base)
	first.SourceID = strPtr("dup")
	require.NoError(t, h.Store.CreateTask(ctx, first))

	second := newTask(t, inbox, 0, base)
	second.SourceID = strPtr("dup")
	err := h.Store.CreateTask(ctx, second)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	other := newTask(t, h.InboxID(t), 0, base)
	other.SourceID = strPtr("dup")
	assert.NoError(t, h.Store.CreateTask(ctx, other), "source IDs are scoped per inbox")

	noSource := newTask(t, inbox, 0, base)
	assert.NoError(t, h.Store.CreateTask(ctx, noSource))
	assert.NoError(t, h.Store.CreateTask(ctx, newTask(t, inbox, 0, base)), "null source IDs never collide")
}

func testUpdateAndDelete(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	task := newTask(t, inbox, 1, base)
	require.NoError(t, h.Store.CreateTask(ctx, task))

	require.NoError(t, task.Claim("agent-a", base, time.Minute))
	require.NoError(t, task.Start(base.Add(time.Second)))
	task.Error = &domain.TaskError{Message: "warn"}
	require.NoError(t, h.Store.UpdateTask(ctx, task))

	got, err := h.Store.GetTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInProgress, got.Status)
	assert.Equal(t, "agent-a", *got.ClaimedBy)
	assert.True(t, base.Add(time.Minute).Equal(*got.ClaimExpiresAt))
	assert.True(t, base.Add(time.Second).Equal(*got.StartedAt))
	require.NotNil(t, got.Error)
	assert.Equal(t, "warn", got.Error.Message)

	require.NoError(t, h.Store.DeleteTask(ctx, task.ID))
	_, err = h.Store.GetTaskByID(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

// testOpaqueJSONVerbatim checks payloads come back byte for byte, including
// key order, whitespace and duplicate keys.
func testOpaqueJSONVerbatim(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	const (
		payload = `{"b":1,  "a":2}`
		suspend = `{"z": [1, 2],"a":null}`
		resume  = `{"k":1,"k":2}`
		result  = `[ "x" ,{"y":true} ]`
	)
	task := newTask(t, inbox, 0, base)
	read := func() *domain.Task {
		t.Helper()
		got, err := h.Store.GetTaskByID(ctx, task.ID)
		require.NoError(t, err)
		return got
	}

	task.Payload = json.RawMessage(payload)
	require.NoError(t, h.Store.CreateTask(ctx, task))
	assert.Equal(t, payload, string(read().Payload))

	require.NoError(t, task.Claim("agent-a", base, time.Minute))
	require.NoError(t, task.Start(base))
	require.NoError(t, task.Suspend(json.RawMessage(suspend), base))
	require.NoError(t, h.Store.UpdateTask(ctx, task))
	assert.Equal(t, suspend, string(read().SuspendPayload))

	require.NoError(t, task.Resume(json.RawMessage(resume)))
	require.NoError(t, task.Complete(json.RawMessage(result), base))
	require.NoError(t, h.Store.UpdateTask(ctx, task))

	got := read()
	assert.Equal(t, payload, string(got.Payload))
	assert.Equal(t, resume, string(got.ResumePayload))
	assert.Equal(t, result, string(got.Result))
}

func testDeleteTasks(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	old := newTask(t, inbox, 0, base)
	require.NoError(t, old.Cancel(base))
	require.NoError(t, h.Store.CreateTask(ctx, old))

	recent := newTask(t, inbox, 0, base.Add(time.Hour))
	require.NoError(t, recent.Cancel(base))
	require.NoError(t, h.Store.CreateTask(ctx, recent))

	pending := newTask(t, inbox, 0, base)
	require.NoError(t, h.Store.CreateTask(ctx, pending))

	cutoff := base.Add(time.Minute)
	n, err := h.Store.DeleteTasks(ctx, store.DeleteFilter{
		InboxID:   &inbox,
		Statuses:  []domain.TaskStatus{domain.TaskStatusCancelled},
		OlderThan: &cutoff,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	remaining, err := h.Store.ListTasks(ctx, store.ListFilter{InboxID: &inbox})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func testListTasks(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	low := newTask(t, inbox, 1, base)
	highLate := newTask(t, inbox, 9, base.Add(2*time.Second))
	highEarly := newTask(t, inbox, 9, base.Add(time.Second))
	sms := newTask(t, inbox, 3, base)
	sms.Type = "sms"
	for _, task := range []*domain.Task{low, highLate, highEarly, sms} {
		require.NoError(t, h.Store.CreateTask(ctx, task))
	}

	all, err := h.Store.ListTasks(ctx, store.ListFilter{InboxID: &inbox})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{highEarly.ID, highLate.ID, sms.ID, low.ID}, ids(all))

	smsType := "sms"
	filtered, err := h.Store.ListTasks(ctx, store.ListFilter{InboxID: &inbox, Type: &smsType})
	require.NoError(t, err)
	assert.Equal(t, []string{sms.ID}, ids(filtered))

	page, err := h.Store.ListTasks(ctx, store.ListFilter{InboxID: &inbox, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{highLate.ID, sms.ID}, ids(page))

	none, err := h.Store.ListTasks(ctx, store.ListFilter{
		InboxID:  &inbox,
		Statuses: []domain.TaskStatus{domain.TaskStatusCompleted},
	})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func ids(tasks []*domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

// claim runs the claim protocol once in its own transaction.
func claim(ctx context.Context, s store.TaskStore, criteria store.ClaimCriteria) (*domain.Task, error) {
	var claimed *domain.Task
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		t, err := tx.ClaimNext(ctx, criteria)
		if err != nil {
			return err
		}
		if err := t.Claim(criteria.AgentID, criteria.Now, time.Minute); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, t); err != nil {
			return err
		}
		claimed = t
		return nil
	})
	return claimed, err
}

func testClaimNextOrdering(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	first := newTask(t, inbox, 1, base)
	second := newTask(t, inbox, 1, base.Add(time.Second))
	urgent := newTask(t, inbox, 10, base.Add(time.Hour))
	for _, task := range []*domain.Task{second, first, urgent} {
		require.NoError(t, h.Store.CreateTask(ctx, task))
	}

	criteria := store.ClaimCriteria{InboxID: inbox, AgentID: "w", Now: base.Add(2 * time.Hour)}
	var order []string
	for i := 0; i < 3; i++ {
		got, err := claim(ctx, h.Store, criteria)
		require.NoError(t, err)
		order = append(order, got.ID)
	}
	assert.Equal(t, []string{urgent.ID, first.ID, second.ID}, order)

	_, err := claim(ctx, h.Store, criteria)
	assert.ErrorIs(t, err, store.ErrNoTaskAvailable)
}

func testClaimNextEligibility(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)
	now := base.Add(time.Hour)

	waiting := newTask(t, inbox, 100, base)
	retryAt := now.Add(time.Minute)
	waiting.NextRetryAt = &retryAt

	targeted := newTask(t, inbox, 50, base)
	targeted.TargetAgentID = strPtr("agent-b")

	sms := newTask(t, inbox, 10, base)
	sms.Type = "sms"

	plain := newTask(t, inbox, 1, base)

	for _, task := range []*domain.Task{waiting, targeted, sms, plain} {
		require.NoError(t, h.Store.CreateTask(ctx, task))
	}

	got, err := claim(ctx, h.Store, store.ClaimCriteria{InboxID: inbox, AgentID: "agent-a", Types: []string{"email"}, Now: now})
	require.NoError(t, err)
	assert.Equal(t, plain.ID, got.ID, "retry window, target agent and type filter exclude the others")

	got, err = claim(ctx, h.Store, store.ClaimCriteria{InboxID: inbox, AgentID: "agent-b", Now: now})
	require.NoError(t, err)
	assert.Equal(t, targeted.ID, got.ID)

	got, err = claim(ctx, h.Store, store.ClaimCriteria{InboxID: inbox, AgentID: "agent-a", Now: retryAt})
	require.NoError(t, err)
	assert.Equal(t, waiting.ID, got.ID, "eligible once the retry window elapses")

	_, err = claim(ctx, h.Store, store.ClaimCriteria{InboxID: h.InboxID(t), AgentID: "agent-a", Now: now})
	assert.ErrorIs(t, err, store.ErrNoTaskAvailable, "other inboxes are not visible")
}

func testClaimNextSkipsLocked(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	a := newTask(t, inbox, 2, base)
	b := newTask(t, inbox, 1, base)
	require.NoError(t, h.Store.CreateTask(ctx, a))
	require.NoError(t, h.Store.CreateTask(ctx, b))

	criteria := store.ClaimCriteria{InboxID: inbox, AgentID: "w", Now: base.Add(time.Hour)}
	locked := make(chan string)
	release := make(chan struct{})
	done := make(chan error)

	go func() {
		done <- h.Store.WithinTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
			task, err := tx.ClaimNext(ctx, criteria)
			if err != nil {
				close(locked)
				return err
			}
			locked <- task.ID
			<-release
			return nil
		})
	}()

	heldID, ok := <-locked
	require.True(t, ok, "first transaction should lock a task")
	assert.Equal(t, a.ID, heldID)

	err := h.Store.WithinTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		got, err := tx.ClaimNext(ctx, criteria)
		if err != nil {
			return err
		}
		assert.Equal(t, b.ID, got.ID, "locked row must be skipped, not waited on")
		return nil
	})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func testReleaseExpiredClaims(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	expired := newTask(t, inbox, 0, base)
	require.NoError(t, expired.Claim("w", base, time.Minute))
	runID := "run-1"
	expired.RunID = &runID

	live := newTask(t, inbox, 0, base)
	require.NoError(t, live.Claim("w", base, time.Hour))

	started := newTask(t, inbox, 0, base)
	require.NoError(t, started.Claim("w", base, time.Minute))
	require.NoError(t, started.Start(base))

	for _, task := range []*domain.Task{expired, live, started} {
		require.NoError(t, h.Store.CreateTask(ctx, task))
	}

	n, err := h.Store.ReleaseExpiredClaims(ctx, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	got, err := h.Store.GetTaskByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Nil(t, got.ClaimedBy)
	assert.Nil(t, got.ClaimExpiresAt)
	assert.Nil(t, got.RunID)
	assert.Zero(t, got.Attempts, "reclaim does not count as an attempt")

	got, err = h.Store.GetTaskByID(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusClaimed, got.Status)

	got, err = h.Store.GetTaskByID(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInProgress, got.Status, "only CLAIMED rows are reclaimed")
}

func testCounts(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Store.CreateTask(ctx, newTask(t, inbox, 0, base)))
	}
	done := newTask(t, inbox, 0, base)
	require.NoError(t, done.Cancel(base))
	require.NoError(t, h.Store.CreateTask(ctx, done))

	counts, err := h.Store.CountByStatus(ctx, inbox)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[domain.TaskStatusPending])
	assert.Equal(t, int64(1), counts[domain.TaskStatusCancelled])
	assert.Zero(t, counts[domain.TaskStatusClaimed])

	byInbox, err := h.Store.CountByInbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, counts, byInbox[inbox])
}

func testRollback(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	existing := newTask(t, inbox, 0, base)
	require.NoError(t, h.Store.CreateTask(ctx, existing))

	created := newTask(t, inbox, 0, base)
	boom := errors.New("boom")
	err := h.Store.WithinTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		if err := tx.CreateTask(ctx, created); err != nil {
			return err
		}
		locked, err := tx.GetTaskForUpdate(ctx, existing.ID)
		if err != nil {
			return err
		}
		locked.Priority = 42
		if err := tx.UpdateTask(ctx, locked); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = h.Store.GetTaskByID(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	got, err := h.Store.GetTaskByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Priority)

	// Locks from the failed transaction must be gone.
	lockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.Store.WithinTx(lockCtx, func(ctx context.Context, tx store.TaskStore) error {
		_, err := tx.GetTaskForUpdate(ctx, existing.ID)
		return err
	}))
}

func testConcurrentClaims(t *testing.T, h Harness) {
	ctx := context.Background()
	inbox := h.InboxID(t)

	const tasks = 40
	const workers = 8
	for i := 0; i < tasks; i++ {
		require.NoError(t, h.Store.CreateTask(ctx, newTask(t, inbox, i%4, base.Add(time.Duration(i)*time.Millisecond))))
	}

	var (
		mu     sync.Mutex
		seen   = make(map[string]string)
		dupes  []string
		errs   []error
		wg     sync.WaitGroup
		claimT = base.Add(time.Hour)
	)
	for w := 0; w < workers; w++ {
		agent := fmt.Sprintf("agent-%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := claim(ctx, h.Store, store.ClaimCriteria{InboxID: inbox, AgentID: agent, Now: claimT})
				if errors.Is(err, store.ErrNoTaskAvailable) {
					return
				}
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
					mu.Unlock()
					return
				}
				if prev, ok := seen[got.ID]; ok {
					dupes = append(dupes, fmt.Sprintf("%s claimed by %s and %s", got.ID, prev, agent))
				}
				seen[got.ID] = agent
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Empty(t, dupes)
	assert.Len(t, seen, tasks)

	claimed, err := h.Store.ListTasks(ctx, store.ListFilter{InboxID: &inbox, Statuses: []domain.TaskStatus{domain.TaskStatusClaimed}})
	require.NoError(t, err)
	assert.Len(t, claimed, tasks)
}
