package inbox

import (
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
)

// Recorder observes service outcomes, typically to export metrics.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// ClaimAttempted is called after every ClaimTask that reached the store.
	ClaimAttempted(inboxID string, claimed bool)

	// TaskTransitioned is called after a lifecycle operation commits.
	TaskTransitioned(inboxID string, to domain.TaskStatus)

	// ClaimsReclaimed is called with the count released by ReleaseExpiredClaims.
	ClaimsReclaimed(n int64)

	// TaskFinished is called when a started task completes or fails terminally.
	TaskFinished(taskType string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ClaimAttempted(string, bool) {}
func (nopRecorder) TaskTransitioned(string, domain.TaskStatus) {}
func (nopRecorder) ClaimsReclaimed(int64) {}
func (nopRecorder) TaskFinished(string, time.Duration) {}
