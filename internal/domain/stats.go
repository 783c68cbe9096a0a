package domain

// InboxStats is the per-inbox rollup of task counts.
// Failed merges the failed and cancelled statuses.
type InboxStats struct {
	Pending         int64 `json:"pending"`
	Claimed         int64 `json:"claimed"`
	InProgress      int64 `json:"in_progress"`
	WaitingForInput int64 `json:"waiting_for_input"`
	Completed       int64 `json:"completed"`
	Failed          int64 `json:"failed"`
}

// Total returns the sum of every bucket.
func (s InboxStats) Total() int64 {
	return s.Pending + s.Claimed + s.InProgress + s.WaitingForInput + s.Completed + s.Failed
}

// NewInboxStats folds raw per-status counts into the caller-facing buckets.
func NewInboxStats(counts map[TaskStatus]int64) InboxStats {
	var s InboxStats
	for status, n := range counts {
		switch status {
		case TaskStatusPending:
			s.Pending += n
		case TaskStatusClaimed:
			s.Claimed += n
		case TaskStatusInProgress:
			s.InProgress += n
		case TaskStatusWaitingForInput:
			s.WaitingForInput += n
		case TaskStatusCompleted:
			s.Completed += n
		case TaskStatusFailed, TaskStatusCancelled:
			s.Failed += n
		}
	}
	return s
}
