package inbox

import (
	"context"

	"github.com/phrazzld/task-inbox/internal/domain"
)

// GetStats implements Service.GetStats.
func (s *service) GetStats(ctx context.Context, inboxID string) (domain.InboxStats, error) {
	counts, err := s.store.CountByStatus(ctx, inboxID)
	if err != nil {
		return domain.InboxStats{}, wrapError("get_stats", "", err)
	}
	return domain.NewInboxStats(counts), nil
}

// GetStatsByInbox implements Service.GetStatsByInbox.
func (s *service) GetStatsByInbox(ctx context.Context) (map[string]domain.InboxStats, error) {
	counts, err := s.store.CountByInbox(ctx)
	if err != nil {
		return nil, wrapError("get_stats_by_inbox", "", err)
	}
	stats := make(map[string]domain.InboxStats, len(counts))
	for inboxID, c := range counts {
		stats[inboxID] = domain.NewInboxStats(c)
	}
	return stats, nil
}
