package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/platform/logger"
	"github.com/phrazzld/task-inbox/internal/service/inbox"
)

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers poll the inbox.
	// If zero or negative, defaults to 1
	WorkerCount int

	// InboxID is the inbox the workers claim from
	InboxID string

	// AgentID identifies this runner to the inbox; tasks targeted at it are eligible
	AgentID string

	// PollInterval is how long an idle worker waits before claiming again
	PollInterval time.Duration

	// ClaimTimeout is the lease requested for each claim and the deadline
	// given to the handler. Zero uses the inbox default.
	ClaimTimeout time.Duration

	// Types restricts claims to these task types. When empty the runner claims
	// only types it has handlers for.
	Types []string
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:  2,
		PollInterval: time.Second,
	}
}

// Runner polls an inbox and executes claimed tasks with registered handlers.
type Runner struct {
	svc      inbox.Service
	config   RunnerConfig
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
}

// NewRunner creates a new Runner
func NewRunner(svc inbox.Service, config RunnerConfig, logger *slog.Logger) *Runner {
	if svc == nil {
		panic("svc cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "task_runner"))

	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			slog.Int("specified_count", config.WorkerCount),
			slog.Int("default_count", 1))
		config.WorkerCount = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRunnerConfig().PollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		svc:      svc,
		config:   config,
		logger:   logger,
		handlers: make(map[string]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register installs h for tasks of taskType, replacing any earlier handler.
func (r *Runner) Register(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
	r.logger.Debug("registered task handler", slog.String("task_type", taskType))
}

func (r *Runner) handler(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// claimTypes returns the task types workers may claim.
func (r *Runner) claimTypes() []string {
	if len(r.config.Types) > 0 {
		return r.config.Types
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Start launches the workers. Handlers should be registered first.
func (r *Runner) Start() error {
	if r.config.InboxID == "" {
		return errors.New("runner inbox ID cannot be empty")
	}
	if r.config.AgentID == "" {
		return errors.New("runner agent ID cannot be empty")
	}
	if len(r.claimTypes()) == 0 {
		return errors.New("runner has no handlers registered")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("runner already started")
	}
	r.started = true

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.logger.Info("task runner started",
		slog.String("inbox_id", r.config.InboxID),
		slog.String("agent_id", r.config.AgentID),
		slog.Int("worker_count", r.config.WorkerCount))
	return nil
}

// Stop signals the workers and waits for in-flight tasks to be reported.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("task runner stopped")
}

// worker claims and processes tasks until the runner stops.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	log := r.logger.With(slog.Int("worker_id", id))
	log.Debug("starting worker")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Debug("stopping worker")
			return
		case <-timer.C:
		}
		if r.ctx.Err() != nil {
			log.Debug("stopping worker")
			return
		}

		if r.poll(log) {
			timer.Reset(0)
		} else {
			timer.Reset(r.config.PollInterval)
		}
	}
}

// poll claims and processes at most one task and reports whether it found one.
func (r *Runner) poll(log *slog.Logger) bool {
	ctx := logger.WithLogger(r.ctx, log)

	task, err := r.svc.ClaimTask(ctx, inbox.ClaimRequest{
		InboxID:      r.config.InboxID,
		AgentID:      r.config.AgentID,
		Filter:       &inbox.ClaimFilter{Types: r.claimTypes()},
		ClaimTimeout: r.config.ClaimTimeout,
	})
	if err != nil {
		if r.ctx.Err() == nil {
			log.Error("failed to claim task", slog.String("error", err.Error()))
		}
		return false
	}
	if task == nil {
		return false
	}

	r.process(ctx, task, log)
	return true
}

// process runs one claimed task to an outcome. Outcomes are reported even when
// the runner is stopping so finished work is not lost.
func (r *Runner) process(ctx context.Context, task *domain.Task, log *slog.Logger) {
	log = log.With(slog.String("task_id", task.ID), slog.String("task_type", task.Type))
	report := logger.WithLogger(context.WithoutCancel(ctx), log)

	h, ok := r.handler(task.Type)
	if !ok {
		log.Error("no handler registered for claimed task")
		r.fail(report, task, Permanent(fmt.Errorf("no handler registered for task type %q", task.Type)), "", log)
		return
	}

	if _, err := r.svc.StartTask(report, task.ID); err != nil {
		log.Error("failed to start task", slog.String("error", err.Error()))
		return
	}
	runID := uuid.NewString()
	started, err := r.svc.UpdateTask(report, task.ID, inbox.UpdateTaskInput{RunID: &runID})
	if err != nil {
		// The task is IN_PROGRESS and the claim sweep never reclaims it, so
		// hand it back before giving up.
		log.Error("failed to record run ID", slog.String("error", err.Error()))
		r.release(report, task.ID, log)
		return
	}
	log = log.With(slog.String("run_id", runID))
	log.Info("processing task")

	runCtx := ctx
	if r.config.ClaimTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.ClaimTimeout)
		defer cancel()
	}

	result, stack, err := r.execute(runCtx, h, started)

	var suspend *SuspendError
	switch {
	case err == nil:
		if _, err := r.svc.CompleteTask(report, task.ID, result); err != nil {
			log.Error("failed to complete task", slog.String("error", err.Error()))
			return
		}
		log.Info("task completed successfully")
	case errors.As(err, &suspend):
		if _, err := r.svc.SuspendTask(report, task.ID, suspend.Payload); err != nil {
			log.Error("failed to suspend task", slog.String("error", err.Error()))
			return
		}
		log.Info("task suspended awaiting input")
	default:
		log.Error("task execution failed", slog.String("error", err.Error()))
		r.fail(report, task, err, stack, log)
	}
}

// execute calls the handler, converting a panic into an error with its stack.
func (r *Runner) execute(ctx context.Context, h Handler, task *domain.Task) (result json.RawMessage, stack string, err error) {
	defer func() {
		if p := recover(); p != nil {
			stack = string(debug.Stack())
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	result, err = h.Handle(ctx, task)
	return result, "", err
}

// release returns a started task to pending without counting an attempt.
func (r *Runner) release(ctx context.Context, taskID string, log *slog.Logger) {
	if _, err := r.svc.ReleaseTask(ctx, taskID); err != nil {
		log.Error("failed to release task", slog.String("error", err.Error()))
		return
	}
	log.Info("task released unprocessed")
}

func (r *Runner) fail(ctx context.Context, task *domain.Task, cause error, stack string, log *slog.Logger) {
	retryable := !IsPermanent(cause)
	failed, err := r.svc.FailTask(ctx, task.ID, inbox.FailTaskInput{
		Error: domain.TaskError{Message: cause.Error(), Stack: stack, Retryable: &retryable},
	})
	if err != nil {
		log.Error("failed to record task failure", slog.String("error", err.Error()))
		return
	}
	log.Info("task failure recorded",
		slog.String("status", failed.Status.String()),
		slog.Int("attempts", failed.Attempts))
}
