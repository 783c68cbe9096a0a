package metrics

import (
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Claim outcomes used for the result label of inbox_claims_total.
const (
	ClaimResultClaimed = "claimed"
	ClaimResultEmpty   = "empty"
)

// Metrics records inbox activity. It implements inbox.Recorder.
type Metrics struct {
	claims      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	reclaimed   prometheus.Counter
	tasks       *prometheus.GaugeVec
	duration    *prometheus.HistogramVec
}

// New registers the inbox collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// claims counts claim attempts per inbox.
		// Labels:
		//   - inbox: inbox ID
		//   - result: "claimed" or "empty"
		claims: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_claims_total",
			Help: "Claim attempts by inbox and outcome",
		}, []string{"inbox", "result"}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_task_transitions_total",
			Help: "Task status changes by inbox and target status",
		}, []string{"inbox", "to"}),

		reclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_reclaimed_total",
			Help: "Expired claims returned to pending",
		}),

		// tasks is refreshed from a stats snapshot by the sweeper.
		tasks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inbox_tasks",
			Help: "Tasks per inbox and status bucket",
		}, []string{"inbox", "status"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inbox_task_duration_seconds",
			Help:    "Time from start to completion or terminal failure",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

// ClaimAttempted implements inbox.Recorder.
func (m *Metrics) ClaimAttempted(inboxID string, claimed bool) {
	result := ClaimResultEmpty
	if claimed {
		result = ClaimResultClaimed
	}
	m.claims.WithLabelValues(inboxID, result).Inc()
}

// TaskTransitioned implements inbox.Recorder.
func (m *Metrics) TaskTransitioned(inboxID string, to domain.TaskStatus) {
	m.transitions.WithLabelValues(inboxID, to.String()).Inc()
}

// ClaimsReclaimed implements inbox.Recorder.
func (m *Metrics) ClaimsReclaimed(n int64) {
	if n > 0 {
		m.reclaimed.Add(float64(n))
	}
}

// TaskFinished implements inbox.Recorder.
func (m *Metrics) TaskFinished(taskType string, elapsed time.Duration) {
	m.duration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

// SetInboxStats replaces the inbox_tasks gauge with snapshot. Inboxes missing
// from snapshot are dropped.
func (m *Metrics) SetInboxStats(snapshot map[string]domain.InboxStats) {
	m.tasks.Reset()
	for inboxID, s := range snapshot {
		m.tasks.WithLabelValues(inboxID, "pending").Set(float64(s.Pending))
		m.tasks.WithLabelValues(inboxID, "claimed").Set(float64(s.Claimed))
		m.tasks.WithLabelValues(inboxID, "in_progress").Set(float64(s.InProgress))
		m.tasks.WithLabelValues(inboxID, "waiting_for_input").Set(float64(s.WaitingForInput))
		m.tasks.WithLabelValues(inboxID, "completed").Set(float64(s.Completed))
		m.tasks.WithLabelValues(inboxID, "failed").Set(float64(s.Failed))
	}
}
