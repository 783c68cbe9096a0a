package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/platform/logger"
	"github.com/phrazzld/task-inbox/internal/store"
)

// state is shared by a root store and every transaction-bound handle.
type state struct {
	mu      sync.Mutex
	tasks   map[string]*domain.Task
	locks   map[string]*txn
	changed chan struct{} // closed and replaced whenever a lock is released
	nextTx  atomic.Uint64
}

// txn tracks the rows one transaction holds and how to undo its writes.
type txn struct {
	id   uint64
	held map[string]struct{}
	// undo maps a task ID to its value before the first write in this
	// transaction; nil means the task did not exist.
	undo map[string]*domain.Task
}

// TaskStore is an in-memory store.TaskStore.
type TaskStore struct {
	st     *state
	tx     *txn // nil outside WithinTx
	logger *slog.Logger
}

// Ensure TaskStore implements store.TaskStore interface
var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty in-memory task store.
// If logger is nil, a default logger will be used.
func NewTaskStore(logger *slog.Logger) *TaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{
		st: &state{
			tasks:   make(map[string]*domain.Task),
			locks:   make(map[string]*txn),
			changed: make(chan struct{}),
		},
		logger: logger.With(slog.String("component", "memory_task_store")),
	}
}

func notFound(operation, id string) error {
	return store.NewStoreError("task", operation, "task not found", store.ErrTaskNotFound).WithID(id)
}

func duplicate(operation, id, message string) error {
	return store.NewStoreError("task", operation, message, store.ErrDuplicate).WithID(id)
}

// lockedByOther reports whether another transaction holds id. Caller holds st.mu.
func (s *TaskStore) lockedByOther(id string) bool {
	owner, ok := s.st.locks[id]
	return ok && owner != s.tx
}

// waitUnlocked blocks until no other transaction holds id. Caller holds st.mu;
// it is released while waiting and held again on return.
func (s *TaskStore) waitUnlocked(ctx context.Context, id string) error {
	for s.lockedByOther(id) {
		ch := s.st.changed
		s.st.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			s.st.mu.Lock()
			return ctx.Err()
		}
		s.st.mu.Lock()
	}
	return nil
}

// lock records id as held by the current transaction. Caller holds st.mu.
func (s *TaskStore) lock(id string) {
	if s.tx == nil {
		return
	}
	s.st.locks[id] = s.tx
	s.tx.held[id] = struct{}{}
}

// write stores task, first saving the previous value for rollback. Caller holds st.mu.
func (s *TaskStore) write(task *domain.Task) {
	if s.tx != nil {
		if _, seen := s.tx.undo[task.ID]; !seen {
			s.tx.undo[task.ID] = s.st.tasks[task.ID] // nil when new
		}
		s.lock(task.ID)
	}
	s.st.tasks[task.ID] = task.Clone()
}

// remove deletes id, first saving the previous value for rollback. Caller holds st.mu.
func (s *TaskStore) remove(id string) {
	if s.tx != nil {
		if _, seen := s.tx.undo[id]; !seen {
			s.tx.undo[id] = s.st.tasks[id]
		}
		s.lock(id)
	}
	delete(s.st.tasks, id)
}

func (s *TaskStore) sourceTaken(inboxID string, sourceID *string, exceptID string) bool {
	if sourceID == nil {
		return false
	}
	for _, t := range s.st.tasks {
		if t.ID != exceptID && t.InboxID == inboxID && t.SourceID != nil && *t.SourceID == *sourceID {
			return true
		}
	}
	return false
}

// CreateTask implements store.TaskStore.CreateTask.
func (s *TaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	if _, exists := s.st.tasks[task.ID]; exists {
		return duplicate("create", task.ID, "task ID already exists")
	}
	if s.sourceTaken(task.InboxID, task.SourceID, task.ID) {
		return duplicate("create", task.ID, "source ID already ingested")
	}
	s.write(task)

	logger.FromContextOrDefault(ctx, s.logger).Debug("task created",
		slog.String("task_id", task.ID),
		slog.String("inbox_id", task.InboxID))
	return nil
}

// GetTaskByID implements store.TaskStore.GetTaskByID.
func (s *TaskStore) GetTaskByID(ctx context.Context, id string) (*domain.Task, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	t, ok := s.st.tasks[id]
	if !ok {
		return nil, notFound("get", id)
	}
	return t.Clone(), nil
}

// GetTaskForUpdate implements store.TaskStore.GetTaskForUpdate.
func (s *TaskStore) GetTaskForUpdate(ctx context.Context, id string) (*domain.Task, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	if err := s.waitUnlocked(ctx, id); err != nil {
		return nil, err
	}
	t, ok := s.st.tasks[id]
	if !ok {
		return nil, notFound("get_for_update", id)
	}
	s.lock(id)
	return t.Clone(), nil
}

// GetTaskBySourceID implements store.TaskStore.GetTaskBySourceID.
func (s *TaskStore) GetTaskBySourceID(ctx context.Context, inboxID, sourceID string) (*domain.Task, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	for {
		var found *domain.Task
		for _, t := range s.st.tasks {
			if t.InboxID == inboxID && t.SourceID != nil && *t.SourceID == sourceID {
				found = t
				break
			}
		}
		if found == nil {
			return nil, notFound("get_by_source", sourceID)
		}
		if !s.lockedByOther(found.ID) {
			s.lock(found.ID)
			return found.Clone(), nil
		}
		// The row may change or vanish while we wait, so look it up again.
		if err := s.waitUnlocked(ctx, found.ID); err != nil {
			return nil, err
		}
	}
}

// UpdateTask implements store.TaskStore.UpdateTask.
func (s *TaskStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	if err := s.waitUnlocked(ctx, task.ID); err != nil {
		return err
	}
	existing, ok := s.st.tasks[task.ID]
	if !ok {
		return notFound("update", task.ID)
	}
	if s.sourceTaken(existing.InboxID, task.SourceID, task.ID) {
		return duplicate("update", task.ID, "source ID already ingested")
	}

	updated := task.Clone()
	updated.InboxID = existing.InboxID
	updated.CreatedAt = existing.CreatedAt
	s.write(updated)
	return nil
}

// DeleteTask implements store.TaskStore.DeleteTask.
func (s *TaskStore) DeleteTask(ctx context.Context, id string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	if err := s.waitUnlocked(ctx, id); err != nil {
		return err
	}
	if _, ok := s.st.tasks[id]; !ok {
		return notFound("delete", id)
	}
	s.remove(id)
	return nil
}

// DeleteTasks implements store.TaskStore.DeleteTasks.
func (s *TaskStore) DeleteTasks(ctx context.Context, filter store.DeleteFilter) (int64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	var ids []string
	for id, t := range s.st.tasks {
		if matchesDelete(t, filter) {
			ids = append(ids, id)
		}
	}

	var n int64
	for _, id := range ids {
		if err := s.waitUnlocked(ctx, id); err != nil {
			return n, err
		}
		// Re-check after waiting: the row may have changed or gone.
		if t, ok := s.st.tasks[id]; ok && matchesDelete(t, filter) {
			s.remove(id)
			n++
		}
	}
	return n, nil
}

func matchesDelete(t *domain.Task, f store.DeleteFilter) bool {
	if f.InboxID != nil && t.InboxID != *f.InboxID {
		return false
	}
	if len(f.Statuses) > 0 && !hasStatus(f.Statuses, t.Status) {
		return false
	}
	if f.OlderThan != nil && !t.CreatedAt.Before(*f.OlderThan) {
		return false
	}
	return true
}

func matchesList(t *domain.Task, f store.ListFilter) bool {
	switch {
	case f.InboxID != nil && t.InboxID != *f.InboxID:
		return false
	case len(f.Statuses) > 0 && !hasStatus(f.Statuses, t.Status):
		return false
	case f.Type != nil && t.Type != *f.Type:
		return false
	case f.TargetAgentID != nil && (t.TargetAgentID == nil || *t.TargetAgentID != *f.TargetAgentID):
		return false
	case f.ClaimedBy != nil && (t.ClaimedBy == nil || *t.ClaimedBy != *f.ClaimedBy):
		return false
	case f.Priority != nil && t.Priority != *f.Priority:
		return false
	}
	return true
}

func hasStatus(statuses []domain.TaskStatus, s domain.TaskStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// byRank orders tasks by priority descending, then creation time, then ID.
func byRank(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// ListTasks implements store.TaskStore.ListTasks.
func (s *TaskStore) ListTasks(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error) {
	s.st.mu.Lock()
	matched := make([]*domain.Task, 0)
	for _, t := range s.st.tasks {
		if matchesList(t, filter) {
			matched = append(matched, t.Clone())
		}
	}
	s.st.mu.Unlock()

	byRank(matched)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*domain.Task{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// ClaimNext implements store.TaskStore.ClaimNext.
func (s *TaskStore) ClaimNext(ctx context.Context, criteria store.ClaimCriteria) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	candidates := make([]*domain.Task, 0)
	for _, t := range s.st.tasks {
		if t.InboxID != criteria.InboxID || !t.IsClaimable(criteria.AgentID, criteria.Now) {
			continue
		}
		if len(criteria.Types) > 0 && !containsString(criteria.Types, t.Type) {
			continue
		}
		if s.lockedByOther(t.ID) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, store.ErrNoTaskAvailable
	}

	byRank(candidates)
	chosen := candidates[0]
	s.lock(chosen.ID)
	return chosen.Clone(), nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ReleaseExpiredClaims implements store.TaskStore.ReleaseExpiredClaims.
// Rows held by another transaction are skipped until the next call.
func (s *TaskStore) ReleaseExpiredClaims(ctx context.Context, now time.Time) (int64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	var n int64
	for _, t := range s.st.tasks {
		if t.Status != domain.TaskStatusClaimed || t.ClaimExpiresAt == nil || !t.ClaimExpiresAt.Before(now) {
			continue
		}
		if s.lockedByOther(t.ID) {
			continue
		}
		released := t.Clone()
		if err := released.Release(); err != nil {
			return n, err
		}
		s.write(released)
		n++
	}

	if n > 0 {
		logger.FromContextOrDefault(ctx, s.logger).Info("released expired claims", slog.Int64("count", n))
	}
	return n, nil
}

// CountByStatus implements store.TaskStore.CountByStatus.
func (s *TaskStore) CountByStatus(ctx context.Context, inboxID string) (map[domain.TaskStatus]int64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	counts := make(map[domain.TaskStatus]int64)
	for _, t := range s.st.tasks {
		if t.InboxID == inboxID {
			counts[t.Status]++
		}
	}
	return counts, nil
}

// CountByInbox implements store.TaskStore.CountByInbox.
func (s *TaskStore) CountByInbox(ctx context.Context) (map[string]map[domain.TaskStatus]int64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	counts := make(map[string]map[domain.TaskStatus]int64)
	for _, t := range s.st.tasks {
		if counts[t.InboxID] == nil {
			counts[t.InboxID] = make(map[domain.TaskStatus]int64)
		}
		counts[t.InboxID][t.Status]++
	}
	return counts, nil
}

// WithinTx implements store.TaskStore.WithinTx.
func (s *TaskStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.TaskStore) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx := &txn{
		id:   s.st.nextTx.Add(1),
		held: make(map[string]struct{}),
		undo: make(map[string]*domain.Task),
	}
	bound := &TaskStore{st: s.st, tx: tx, logger: s.logger}

	committed := false
	defer func() {
		s.finish(tx, committed)
		if p := recover(); p != nil {
			// ALLOW-PANIC: propagating caught panic from transaction
			panic(p)
		}
	}()

	if err := fn(ctx, bound); err != nil {
		return err
	}
	committed = true
	return nil
}

// finish releases every lock tx holds, undoing its writes unless committed.
func (s *TaskStore) finish(tx *txn, committed bool) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	if !committed {
		for id, prev := range tx.undo {
			if prev == nil {
				delete(s.st.tasks, id)
			} else {
				s.st.tasks[id] = prev
			}
		}
	}
	for id := range tx.held {
		if s.st.locks[id] == tx {
			delete(s.st.locks, id)
		}
	}
	close(s.st.changed)
	s.st.changed = make(chan struct{})
}

// Len returns the number of stored tasks.
func (s *TaskStore) Len() int {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return len(s.st.tasks)
}
