package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/metrics"
)

// Job names double as distributed lock names.
const (
	JobMatchQueue = "match-queue"
	JobKeepAlive  = "token-keepalive"
)

// ErrLockLost cancels a run whose lock could not be extended.
var ErrLockLost = errors.New("job lock lost")

// Defaults for the scheduled jobs.
const (
	DefaultMatchSchedule     = "@every 1m"
	DefaultMatchBatch        = 50
	DefaultKeepAliveSchedule = "@every 10m"
	DefaultKeepAliveWindow   = 30 * time.Minute
	DefaultLockTTL           = 5 * time.Minute
)

// QueueProcessor drains pending match queue items.
type QueueProcessor interface {
	ProcessPendingQueue(ctx context.Context, limit int) (*domain.BatchResult, error)
}

// TokenRefresher refreshes connections about to expire.
type TokenRefresher interface {
	RefreshExpiring(ctx context.Context, window time.Duration) (refreshed, failed int, err error)
}

// Worker runs the background jobs on cron schedules. Each run holds a
// distributed lock so that one replica at a time does the work.
type Worker struct {
	cron    *cron.Cron
	queue   QueueProcessor
	tokens  TokenRefresher
	lock    driven.DistributedLock
	logger  *slog.Logger
	lockTTL time.Duration

	matchBatch      int
	keepAliveWindow time.Duration

	// Internal state
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	Queue  QueueProcessor
	Tokens TokenRefresher
	Lock   driven.DistributedLock // Optional: skips locking when nil
	Logger *slog.Logger

	MatchSchedule     string
	MatchBatch        int
	KeepAliveSchedule string
	KeepAliveWindow   time.Duration
	LockTTL           time.Duration
}

// NewWorker creates a worker and registers its schedules. An unparsable
// schedule is a configuration error.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		queue:           cfg.Queue,
		tokens:          cfg.Tokens,
		lock:            cfg.Lock,
		logger:          logger,
		lockTTL:         cfg.LockTTL,
		matchBatch:      cfg.MatchBatch,
		keepAliveWindow: cfg.KeepAliveWindow,
	}
	if w.lockTTL <= 0 {
		w.lockTTL = DefaultLockTTL
	}
	if w.matchBatch <= 0 {
		w.matchBatch = DefaultMatchBatch
	}
	if w.keepAliveWindow <= 0 {
		w.keepAliveWindow = DefaultKeepAliveWindow
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	w.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	jobs := []struct {
		name     string
		schedule string
		fallback string
		enabled  bool
		run      func(context.Context) error
	}{
		{JobMatchQueue, cfg.MatchSchedule, DefaultMatchSchedule, w.queue != nil, w.RunMatchBatch},
		{JobKeepAlive, cfg.KeepAliveSchedule, DefaultKeepAliveSchedule, w.tokens != nil, w.RunKeepAlive},
	}
	for _, job := range jobs {
		if !job.enabled {
			continue
		}
		schedule := job.schedule
		if schedule == "" {
			schedule = job.fallback
		}
		run := job.run
		if _, err := w.cron.AddFunc(schedule, func() { _ = run(w.jobContext()) }); err != nil {
			return nil, fmt.Errorf("%w: schedule %q for %s: %v", domain.ErrConfiguration, schedule, job.name, err)
		}
		logger.Info("registered job", "job", job.name, "schedule", schedule)
	}

	return w, nil
}

// Start begins running scheduled jobs until Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.logger.Info("worker starting", "jobs", len(w.cron.Entries()))
	w.cron.Start()

	go func() {
		<-w.ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop waits for running jobs to finish and stops the schedule.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	<-w.cron.Stop().Done()
	w.logger.Info("worker stopped")
}

func (w *Worker) jobContext() context.Context {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

// RunMatchBatch processes one batch of pending match queue items.
func (w *Worker) RunMatchBatch(ctx context.Context) error {
	return w.runLocked(ctx, JobMatchQueue, func(ctx context.Context, logger *slog.Logger) error {
		result, err := w.queue.ProcessPendingQueue(ctx, w.matchBatch)
		if err != nil {
			return err
		}
		if result.Processed > 0 {
			logger.Info("match batch processed",
				"processed", result.Processed,
				"matched", result.Matched,
				"manual_review", result.ManualReview,
				"failed", result.Failed,
			)
		}
		return nil
	})
}

// RunKeepAlive refreshes tokens expiring within the keep-alive window.
func (w *Worker) RunKeepAlive(ctx context.Context) error {
	return w.runLocked(ctx, JobKeepAlive, func(ctx context.Context, logger *slog.Logger) error {
		refreshed, failed, err := w.tokens.RefreshExpiring(ctx, w.keepAliveWindow)
		if err != nil {
			return err
		}
		if refreshed+failed > 0 {
			logger.Info("token keep-alive finished", "refreshed", refreshed, "failed", failed)
		}
		return nil
	})
}

// runLocked runs fn while holding the job's lock. A lock held elsewhere
// skips the run. The lock is extended every half TTL while fn runs.
func (w *Worker) runLocked(ctx context.Context, job string, fn func(context.Context, *slog.Logger) error) error {
	logger := w.logger.With("job", job)

	if w.lock != nil {
		acquired, err := w.lock.Acquire(ctx, job, w.lockTTL)
		if err != nil {
			logger.Warn("failed to acquire job lock", "error", err)
			metrics.WorkerJobRuns.WithLabelValues(job, "lock_error").Inc()
			return err
		}
		if !acquired {
			logger.Debug("job lock held by another instance, skipping run")
			metrics.WorkerJobRuns.WithLabelValues(job, "skipped").Inc()
			return nil
		}
		defer func() {
			// Release must outlive a cancelled job context
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := w.lock.Release(releaseCtx, job); err != nil {
				logger.Warn("failed to release job lock", "error", err)
			}
		}()

		var cancel context.CancelCauseFunc
		ctx, cancel = context.WithCancelCause(ctx)
		defer cancel(nil)
		stop := w.keepLease(ctx, cancel, job, logger)
		defer stop()
	}

	start := time.Now()
	err := fn(ctx, logger)
	if cause := context.Cause(ctx); errors.Is(cause, ErrLockLost) {
		err = cause
	}
	metrics.WorkerJobRuns.WithLabelValues(job, metrics.Outcome(err)).Inc()
	if err != nil {
		logger.Error("job failed", "duration", time.Since(start), "error", err)
		return err
	}
	logger.Debug("job completed", "duration", time.Since(start))
	return nil
}

// keepLease extends the job lock until stop is called. A failed extension
// cancels ctx with ErrLockLost.
func (w *Worker) keepLease(ctx context.Context, cancel context.CancelCauseFunc, job string, logger *slog.Logger) (stop func()) {
	interval := w.lockTTL / 2
	if interval <= 0 {
		interval = w.lockTTL
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.lock.Extend(ctx, job, w.lockTTL); err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Warn("failed to extend job lock, cancelling run", "error", err)
					cancel(fmt.Errorf("%w: %w", ErrLockLost, err))
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// Health describes the worker state.
type Health struct {
	Running    bool   `json:"running"`
	LockHealth bool   `json:"lock_health"`
	Error      string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	health := Health{Running: w.running, LockHealth: true}
	w.mu.RUnlock()

	if w.lock != nil {
		if err := w.lock.Ping(ctx); err != nil {
			health.LockHealth = false
			health.Error = err.Error()
		}
	}
	return health
}
