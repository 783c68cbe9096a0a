package inbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/platform/logger"
	"github.com/phrazzld/task-inbox/internal/store"
)

// errCandidateRejected rolls back a claim whose candidate failed the caller's predicate.
var errCandidateRejected = errors.New("candidate rejected by claim filter")

// ClaimTask implements Service.ClaimTask.
func (s *service) ClaimTask(ctx context.Context, req ClaimRequest) (*domain.Task, error) {
	if req.InboxID == "" {
		return nil, invalidInput("claim_task", "inbox ID cannot be empty")
	}
	if req.AgentID == "" {
		return nil, invalidInput("claim_task", "agent ID cannot be empty")
	}

	timeout := req.ClaimTimeout
	if timeout <= 0 {
		timeout = s.claimTimeout
	}

	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("inbox_id", req.InboxID),
		slog.String("agent_id", req.AgentID))

	var claimed *domain.Task
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		now := s.now()
		criteria := store.ClaimCriteria{InboxID: req.InboxID, AgentID: req.AgentID, Now: now}
		if req.Filter != nil {
			criteria.Types = req.Filter.Types
		}

		candidate, err := tx.ClaimNext(ctx, criteria)
		if err != nil {
			return err
		}
		if req.Filter != nil && req.Filter.Filter != nil && !req.Filter.Filter(candidate.Clone()) {
			log.Debug("claim filter rejected candidate", slog.String("task_id", candidate.ID))
			return errCandidateRejected
		}

		if err := candidate.Claim(req.AgentID, now, timeout); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, candidate); err != nil {
			return err
		}
		claimed = candidate
		return nil
	})

	switch {
	case errors.Is(err, store.ErrNoTaskAvailable), errors.Is(err, errCandidateRejected):
		s.recorder.ClaimAttempted(req.InboxID, false)
		return nil, nil
	case err != nil:
		log.Error("claim failed", slog.String("error", err.Error()))
		return nil, wrapError("claim_task", "", err)
	}

	log.Info("task claimed",
		slog.String("task_id", claimed.ID),
		slog.Int("priority", claimed.Priority),
		slog.Time("claim_expires_at", *claimed.ClaimExpiresAt))
	s.recorder.ClaimAttempted(req.InboxID, true)
	s.recorder.TaskTransitioned(req.InboxID, claimed.Status)
	return claimed, nil
}

// ReleaseExpiredClaims implements Service.ReleaseExpiredClaims.
func (s *service) ReleaseExpiredClaims(ctx context.Context) (int64, error) {
	n, err := s.store.ReleaseExpiredClaims(ctx, s.now())
	if err != nil {
		return 0, wrapError("release_expired_claims", "", err)
	}
	if n > 0 {
		logger.FromContextOrDefault(ctx, s.logger).Info("reclaimed expired claims", slog.Int64("count", n))
	}
	s.recorder.ClaimsReclaimed(n)
	return n, nil
}
