package inbox_test

import (
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/platform/logger"
	"github.com/phrazzld/task-inbox/internal/platform/memory"
	"github.com/phrazzld/task-inbox/internal/service/inbox"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedTransition struct {
	inbox string
	to    domain.TaskStatus
}

type fakeRecorder struct {
	mu          sync.Mutex
	claims      map[bool]int
	transitions []recordedTransition
	reclaimed   int64
	finished    map[string][]time.Duration
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{claims: map[bool]int{}, finished: map[string][]time.Duration{}}
}

func (r *fakeRecorder) ClaimAttempted(_ string, claimed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims[claimed]++
}

func (r *fakeRecorder) TaskTransitioned(inboxID string, to domain.TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, recordedTransition{inboxID, to})
}

func (r *fakeRecorder) ClaimsReclaimed(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reclaimed += n
}

func (r *fakeRecorder) TaskFinished(taskType string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[taskType] = append(r.finished[taskType], elapsed)
}

type fixture struct {
	svc      inbox.Service
	store    *memory.TaskStore
	clock    *testClock
	recorder *fakeRecorder
}

func newFixture(t *testing.T, opts ...inbox.Option) *fixture {
	t.Helper()
	log, _ := logger.GetTestLogger(t)
	f := &fixture{
		store:    memory.NewTaskStore(log),
		clock:    newTestClock(),
		recorder: newFakeRecorder(),
	}
	opts = append([]inbox.Option{
		inbox.WithClock(f.clock.Now),
		inbox.WithRecorder(f.recorder),
	}, opts...)
	f.svc = inbox.NewService(f.store, log, opts...)
	return f
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
