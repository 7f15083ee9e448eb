// Package scheduler runs the periodic sync and maintenance jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentworkforce/calsync/internal/syncer"
)

// Engine is the slice of the sync engine the scheduler drives.
type Engine interface {
	SyncUpdatedSince(ctx context.Context) (syncer.CycleSummary, error)
	CleanupCompleted(ctx context.Context, olderThan time.Duration) (int, error)
}

type Options struct {
	SyncInterval     time.Duration
	CleanupInterval  time.Duration
	CleanupRetention time.Duration
	JobTimeout       time.Duration
}

type Scheduler struct {
	cron   *cron.Cron
	engine Engine
	logger syncer.Logger
	opts   Options

	syncID    cron.EntryID
	cleanupID cron.EntryID
}

// JobInfo describes one registered job for status reporting.
type JobInfo struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
}

func New(engine Engine, logger syncer.Logger, opts Options) *Scheduler {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 5 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	if opts.CleanupRetention <= 0 {
		opts.CleanupRetention = 30 * 24 * time.Hour
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	return &Scheduler{
		cron:   cron.New(),
		engine: engine,
		logger: logger,
		opts:   opts,
	}
}

// Start registers the jobs and begins scheduling. Cron runs each job in its
// own goroutine; an overrunning sync never delays the next tick, the engine's
// busy flag makes the overlapping run a no-op instead.
func (s *Scheduler) Start() error {
	var err error
	s.syncID, err = s.cron.AddFunc(every(s.opts.SyncInterval), s.runSync)
	if err != nil {
		return fmt.Errorf("register sync job: %w", err)
	}
	s.cleanupID, err = s.cron.AddFunc(every(s.opts.CleanupInterval), s.runCleanup)
	if err != nil {
		return fmt.Errorf("register cleanup job: %w", err)
	}
	s.cron.Start()
	s.logger.Printf("scheduler started: sync %s, cleanup %s", s.opts.SyncInterval, s.opts.CleanupInterval)
	return nil
}

// Jobs reports the registered jobs and their next run times.
func (s *Scheduler) Jobs() []JobInfo {
	return []JobInfo{
		{Name: "sync", Next: s.cron.Entry(s.syncID).Next},
		{Name: "cleanup", Next: s.cron.Entry(s.cleanupID).Next},
	}
}

// Stop halts scheduling and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runSync() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
	defer cancel()
	if _, err := s.engine.SyncUpdatedSince(ctx); err != nil {
		if errors.Is(err, syncer.ErrSyncBusy) {
			s.logger.Printf("scheduled sync skipped: previous cycle still running")
			return
		}
		s.logger.Printf("scheduled sync failed: %v", err)
	}
}

func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
	defer cancel()
	if _, err := s.engine.CleanupCompleted(ctx, s.opts.CleanupRetention); err != nil {
		if errors.Is(err, syncer.ErrSyncBusy) {
			s.logger.Printf("cleanup skipped: sync cycle running")
			return
		}
		s.logger.Printf("cleanup failed: %v", err)
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
