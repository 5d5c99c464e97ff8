// Package sweeper schedules the background maintenance tasks: geo index
// startup sync, stale-entry cleanup, failed-write retries and job
// expiration. Every task runs under a cluster-wide lock so it fires at
// most once per interval across service instances; a task that loses the
// lock skips the cycle instead of waiting.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Task names double as distributed-lock keys.
const (
	taskSyncAll      = "geo_sync_all"
	taskCleanupStale = "geo_cleanup_stale"
	taskRetryFailed  = "geo_retry_failed"
	taskExpireJobs   = "job_expiration"
)

// GeoSyncer is the geo consistency engine's sweep surface.
type GeoSyncer interface {
	SyncAll(ctx context.Context) error
	CleanupStale(ctx context.Context) error
	RetryFailed(ctx context.Context) error
}

// JobExpirer closes stale open jobs.
type JobExpirer interface {
	ExpireJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int, error)
}

// TaskLock is the cluster-wide lock guarding each task.
type TaskLock interface {
	TryAcquire(ctx context.Context, task string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, task string) error
}

// Config holds sweep intervals and limits.
type Config struct {
	CleanupInterval time.Duration
	RetryInterval   time.Duration
	ExpireInterval  time.Duration
	JobMaxAge       time.Duration
	ExpireBatchSize int
	LockTTL         time.Duration
}

func (c Config) withDefaults() Config {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 10 * time.Minute
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Minute
	}
	if c.ExpireInterval <= 0 {
		c.ExpireInterval = time.Hour
	}
	if c.JobMaxAge <= 0 {
		c.JobMaxAge = 14 * 24 * time.Hour
	}
	if c.ExpireBatchSize <= 0 {
		c.ExpireBatchSize = 200
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	return c
}

// Sweeper wraps robfig/cron and runs the maintenance loop.
type Sweeper struct {
	cron    *cron.Cron
	geoSync GeoSyncer
	expirer JobExpirer
	lock    TaskLock
	logger  *slog.Logger
	cfg     Config
}

// New creates a Sweeper; Start must be called to begin sweeping.
func New(geoSync GeoSyncer, expirer JobExpirer, lock TaskLock, logger *slog.Logger, cfg Config) *Sweeper {
	return &Sweeper{
		cron:    cron.New(),
		geoSync: geoSync,
		expirer: expirer,
		lock:    lock,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

// Start registers the periodic tasks and kicks off one startup sync
// immediately so the index is warm without waiting for the first tick.
func (s *Sweeper) Start(ctx context.Context) error {
	schedule := []struct {
		spec string
		task string
		fn   func(context.Context) error
	}{
		{fmt.Sprintf("@every %s", s.cfg.CleanupInterval), taskCleanupStale, s.geoSync.CleanupStale},
		{fmt.Sprintf("@every %s", s.cfg.RetryInterval), taskRetryFailed, s.geoSync.RetryFailed},
		{fmt.Sprintf("@every %s", s.cfg.ExpireInterval), taskExpireJobs, s.expireJobs},
	}

	for _, entry := range schedule {
		entry := entry
		_, err := s.cron.AddFunc(entry.spec, func() {
			s.runExclusive(ctx, entry.task, entry.fn)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", entry.task, err)
		}
	}

	s.cron.Start()
	s.logger.Info("Sweeper started",
		slog.Duration("cleanup_interval", s.cfg.CleanupInterval),
		slog.Duration("retry_interval", s.cfg.RetryInterval),
		slog.Duration("expire_interval", s.cfg.ExpireInterval),
	)

	go s.runExclusive(ctx, taskSyncAll, s.geoSync.SyncAll)
	return nil
}

// Stop shuts the scheduler down, waiting for running tasks.
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Sweeper stopped")
}

func (s *Sweeper) expireJobs(ctx context.Context) error {
	_, err := s.expirer.ExpireJobs(ctx, s.cfg.JobMaxAge, s.cfg.ExpireBatchSize)
	return err
}

// runExclusive runs fn if this instance wins the task lock, otherwise
// skips the cycle entirely.
func (s *Sweeper) runExclusive(ctx context.Context, task string, fn func(context.Context) error) {
	acquired, err := s.lock.TryAcquire(ctx, task, s.cfg.LockTTL)
	if err != nil {
		s.logger.Error("Failed to contact lock service, skipping sweep",
			slog.String("task", task),
			slog.Any("error", err),
		)
		return
	}
	if !acquired {
		s.logger.Debug("Task lock held elsewhere, skipping sweep",
			slog.String("task", task),
		)
		return
	}
	defer func() {
		if err := s.lock.Release(ctx, task); err != nil {
			s.logger.Warn("Failed to release task lock",
				slog.String("task", task),
				slog.Any("error", err),
			)
		}
	}()

	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error("Sweep failed",
			slog.String("task", task),
			slog.Any("error", err),
		)
		return
	}

	s.logger.Debug("Sweep completed",
		slog.String("task", task),
		slog.Duration("took", time.Since(start)),
	)
}
