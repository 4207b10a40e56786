package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"thebrain/backend/features/job"
)

// Scheduler is the fallback driver for the queue. Each tick it releases
// expired leases and drains every due job, so work still completes when the
// immediate trigger path is down.
type Scheduler struct {
	processor *Processor
	queue     Queue
	interval  time.Duration
	lease     time.Duration
	logger    *slog.Logger
}

func NewScheduler(p *Processor, q Queue, interval, lease time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{processor: p, queue: q, interval: interval, lease: lease, logger: logger}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval, "lease", s.lease)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduler pass.
func (s *Scheduler) Tick(ctx context.Context) {
	if _, err := s.queue.ReleaseExpired(ctx, s.lease); err != nil {
		s.logger.ErrorContext(ctx, "failed to release expired jobs", "error", err)
	}

	for {
		j, err := s.processor.ProcessNext(ctx)
		if errors.Is(err, job.ErrNoJob) {
			return
		}
		if errors.Is(err, ErrJobFailed) {
			// Recorded on the job; the queue reschedules or fails it.
			s.logger.WarnContext(ctx, "scheduled job failed", "job_id", j.ID, "error", err)
			continue
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "scheduler pass aborted", "error", err)
			return
		}
		s.logger.DebugContext(ctx, "scheduler processed job", "job_id", j.ID)
	}
}
