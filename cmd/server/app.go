package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/task-inbox/internal/config"
	"github.com/phrazzld/task-inbox/internal/domain/backoff"
	"github.com/phrazzld/task-inbox/internal/events"
	"github.com/phrazzld/task-inbox/internal/platform/memory"
	"github.com/phrazzld/task-inbox/internal/platform/metrics"
	"github.com/phrazzld/task-inbox/internal/platform/postgres"
	"github.com/phrazzld/task-inbox/internal/service/auth"
	"github.com/phrazzld/task-inbox/internal/service/inbox"
	"github.com/phrazzld/task-inbox/internal/store"
	"github.com/phrazzld/task-inbox/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB // nil with the memory backend

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	taskStore    store.TaskStore
	inboxService inbox.Service
	jwtService   auth.JWTService
	eventEmitter *events.InMemoryEventEmitter

	sweeper *task.Sweeper
	runner  *task.Runner // nil when worker.count is 0
}

// newApplication wires every dependency from cfg. Nothing is started.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		slog.Int("token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes))

	switch cfg.Database.Backend {
	case "memory":
		app.taskStore = memory.NewTaskStore(logger)
		logger.Warn("using in-memory task store; tasks are lost on restart")
	default:
		app.db, err = openDatabase(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		app.taskStore = postgres.NewPostgresTaskStore(app.db, logger)
	}

	app.inboxService = inbox.NewService(app.taskStore, logger,
		inbox.WithRecorder(app.metrics),
		inbox.WithClaimTimeout(cfg.Inbox.ClaimTimeout),
		inbox.WithDefaultMaxAttempts(cfg.Inbox.DefaultMaxAttempts),
		inbox.WithBackoff(backoff.NewParams(backoff.ParamsConfig{
			BaseDelay:  cfg.Inbox.Backoff.BaseDelay,
			Multiplier: cfg.Inbox.Backoff.Multiplier,
			MaxDelay:   cfg.Inbox.Backoff.MaxDelay,
			Jitter:     cfg.Inbox.Backoff.Jitter,
		})),
	)

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)
	app.eventEmitter.RegisterHandler(inbox.NewIngestionHandler(app.inboxService, logger))

	app.sweeper, err = task.NewSweeper(app.inboxService, cfg.Inbox.SweepSchedule, app.metrics, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	if cfg.Worker.Count > 0 {
		app.runner = task.NewRunner(app.inboxService, task.RunnerConfig{
			WorkerCount:  cfg.Worker.Count,
			InboxID:      cfg.Worker.InboxID,
			AgentID:      cfg.Worker.AgentID,
			PollInterval: cfg.Worker.PollInterval,
			ClaimTimeout: cfg.Inbox.ClaimTimeout,
			Types:        cfg.Worker.Types,
		}, logger)
		task.RegisterBuiltins(app.runner)
	}

	logger.Info("application initialized successfully")
	return app, nil
}

// Run starts the background components and serves HTTP until ctx is done.
func (app *application) Run(ctx context.Context) error {
	app.sweeper.Start()
	if app.runner != nil {
		if err := app.runner.Start(); err != nil {
			app.shutdownBackground(context.Background())
			app.cleanup()
			return fmt.Errorf("failed to start task runner: %w", err)
		}
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// shutdownBackground stops the runner and the sweeper.
func (app *application) shutdownBackground(ctx context.Context) {
	if app.runner != nil {
		app.runner.Stop()
	}
	if app.sweeper != nil {
		app.sweeper.Stop(ctx)
	}
}

// cleanup releases the database connection.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", slog.String("error", err.Error()))
		}
	}
	app.logger.Info("application shutdown completed")
}
