package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/platform/logger"
	"github.com/phrazzld/task-inbox/internal/service/inbox"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweep every fifteen seconds.
const DefaultSweepSchedule = "*/15 * * * * *"

// StatsRecorder receives the per-inbox snapshot taken after each sweep.
type StatsRecorder interface {
	SetInboxStats(snapshot map[string]domain.InboxStats)
}

// Sweeper reclaims expired claims on a cron schedule with a seconds field.
type Sweeper struct {
	svc    inbox.Service
	stats  StatsRecorder
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper schedules Sweep on schedule. An empty schedule uses
// DefaultSweepSchedule; stats may be nil.
func NewSweeper(svc inbox.Service, schedule string, stats StatsRecorder, logger *slog.Logger) (*Sweeper, error) {
	if svc == nil {
		panic("svc cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		svc:    svc,
		stats:  stats,
		logger: logger.With(slog.String("component", "claim_sweeper")),
	}

	cronLog := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := s.cron.AddFunc(schedule, func() {
		_ = s.Sweep(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("claim sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("claim sweeper stop timed out")
	}
}

// Sweep releases expired claims, then refreshes the stats recorder.
func (s *Sweeper) Sweep(ctx context.Context) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	n, err := s.svc.ReleaseExpiredClaims(ctx)
	if err != nil {
		log.Error("failed to release expired claims", slog.String("error", err.Error()))
		return err
	}
	if n > 0 {
		log.Info("released expired claims", slog.Int64("count", n))
	}

	if s.stats == nil {
		return nil
	}
	snapshot, err := s.svc.GetStatsByInbox(ctx)
	if err != nil {
		log.Error("failed to refresh inbox stats", slog.String("error", err.Error()))
		return err
	}
	s.stats.SetInboxStats(snapshot)
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
