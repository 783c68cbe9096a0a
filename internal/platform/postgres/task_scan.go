package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phrazzld/task-inbox/internal/domain"
)

// taskColumns lists the tasks table columns in scanTask order.
const taskColumns = `id, inbox_id, source_id, type, title, source_url, priority, target_agent_id,
	payload, result, error, suspend_payload, resume_payload, status,
	created_at, claimed_at, claim_expires_at, started_at, completed_at, suspended_at, next_retry_at,
	attempts, max_attempts, claimed_by, run_id, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t                             domain.Task
		sourceID, sourceURL, target   sql.NullString
		claimedBy, runID              sql.NullString
		payload, result, errJSON      []byte
		suspendPayload, resumePayload []byte
		metadata                      []byte
		status                        string
		claimedAt, claimExpiresAt     sql.NullTime
		startedAt, completedAt        sql.NullTime
		suspendedAt, nextRetryAt      sql.NullTime
	)

	err := row.Scan(
		&t.ID, &t.InboxID, &sourceID, &t.Type, &t.Title, &sourceURL, &t.Priority, &target,
		&payload, &result, &errJSON, &suspendPayload, &resumePayload, &status,
		&t.CreatedAt, &claimedAt, &claimExpiresAt, &startedAt, &completedAt, &suspendedAt, &nextRetryAt,
		&t.Attempts, &t.MaxAttempts, &claimedBy, &runID, &metadata,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.SourceID = fromNullString(sourceID)
	t.SourceURL = fromNullString(sourceURL)
	t.TargetAgentID = fromNullString(target)
	t.ClaimedBy = fromNullString(claimedBy)
	t.RunID = fromNullString(runID)
	t.ClaimedAt = fromNullTime(claimedAt)
	t.ClaimExpiresAt = fromNullTime(claimExpiresAt)
	t.StartedAt = fromNullTime(startedAt)
	t.CompletedAt = fromNullTime(completedAt)
	t.SuspendedAt = fromNullTime(suspendedAt)
	t.NextRetryAt = fromNullTime(nextRetryAt)
	t.Payload = rawOrNil(payload)
	t.Result = rawOrNil(result)
	t.SuspendPayload = rawOrNil(suspendPayload)
	t.ResumePayload = rawOrNil(resumePayload)

	if len(errJSON) > 0 {
		var taskErr domain.TaskError
		if err := json.Unmarshal(errJSON, &taskErr); err != nil {
			return nil, fmt.Errorf("failed to decode task error: %w", err)
		}
		t.Error = &taskErr
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode task metadata: %w", err)
		}
	}
	return &t, nil
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

// jsonArg converts raw JSON into a query argument, mapping empty input to NULL.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// marshalArg encodes v as a JSONB argument. nil values become NULL.
func marshalArg(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *domain.TaskError:
		if x == nil {
			return nil, nil
		}
	case map[string]any:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// mutableArgs returns the values for every column UpdateTask writes, in
// mutableColumns order.
func mutableArgs(t *domain.Task) ([]any, error) {
	errArg, err := marshalArg(t.Error)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task error: %w", err)
	}
	metaArg, err := marshalArg(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task metadata: %w", err)
	}
	return []any{
		t.SourceID, t.Type, t.Title, t.SourceURL, t.Priority, t.TargetAgentID,
		jsonArg(t.Payload), jsonArg(t.Result), errArg, jsonArg(t.SuspendPayload), jsonArg(t.ResumePayload),
		string(t.Status), t.ClaimedAt, t.ClaimExpiresAt, t.StartedAt, t.CompletedAt, t.SuspendedAt,
		t.NextRetryAt, t.Attempts, t.MaxAttempts, t.ClaimedBy, t.RunID, metaArg,
	}, nil
}

// mutableColumns lists the columns UpdateTask rewrites.
var mutableColumns = []string{
	"source_id", "type", "title", "source_url", "priority", "target_agent_id",
	"payload", "result", "error", "suspend_payload", "resume_payload",
	"status", "claimed_at", "claim_expires_at", "started_at", "completed_at", "suspended_at",
	"next_retry_at", "attempts", "max_attempts", "claimed_by", "run_id", "metadata",
}
