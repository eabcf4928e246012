package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Scheduler runs a job immediately and then on a fixed interval until the
// context is cancelled. The daemon runs one scheduler per concern (sync
// enqueueing, queue draining, lock sweeping).
type Scheduler struct {
	name     string
	job      Job
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewScheduler(name string, job Job, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		name:     name,
		job:      job,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("job", name),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runJob(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runJob(ctx)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context) {
	jobCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.job(jobCtx); err != nil && ctx.Err() == nil {
		s.logger.Error("job failed", "error", err)
	}
}
