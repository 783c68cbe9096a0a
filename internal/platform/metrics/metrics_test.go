package metrics

import (
	"testing"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ClaimAttempted("a", true)
	m.ClaimAttempted("a", true)
	m.ClaimAttempted("a", false)
	m.TaskTransitioned("a", domain.TaskStatusCompleted)
	m.ClaimsReclaimed(0)
	m.ClaimsReclaimed(3)
	m.TaskFinished("email", 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.claims.WithLabelValues("a", ClaimResultClaimed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claims.WithLabelValues("a", ClaimResultEmpty)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("a", "completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reclaimed))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration, "inbox_task_duration_seconds"))
}

func TestMetrics_SetInboxStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetInboxStats(map[string]domain.InboxStats{
		"a": {Pending: 2, Failed: 1},
		"b": {Completed: 5},
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasks.WithLabelValues("a", "pending")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.tasks.WithLabelValues("b", "completed")))
	assert.Equal(t, 12, testutil.CollectAndCount(m.tasks))

	m.SetInboxStats(map[string]domain.InboxStats{"a": {Pending: 1}})
	assert.Equal(t, 6, testutil.CollectAndCount(m.tasks), "inboxes missing from the snapshot are dropped")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("a", "pending")))
}

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ClaimAttempted("a", true)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "inbox_claims_total")
	assert.Contains(t, names, "inbox_reclaimed_total")

	assert.Panics(t, func() { New(reg) }, "duplicate registration")
}
