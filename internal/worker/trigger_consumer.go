package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"thebrain/backend/features/job"
	"thebrain/backend/internal/middleware"
)

// TriggerConsumer reacts to ingest trigger events by processing the named
// job immediately. Malformed or stale messages are acknowledged rather than
// requeued since the scheduler guarantees the job runs eventually.
type TriggerConsumer struct {
	processor *Processor
	queue     Queue
	logger    *slog.Logger
}

func NewTriggerConsumer(p *Processor, q Queue, logger *slog.Logger) *TriggerConsumer {
	return &TriggerConsumer{processor: p, queue: q, logger: logger}
}

func (c *TriggerConsumer) HandleMessage(m *nsq.Message) error {
	var event TriggerEvent
	if err := json.Unmarshal(m.Body, &event); err != nil {
		c.logger.Warn("discarding malformed trigger message", "error", err)
		return nil
	}

	ctx := context.Background()
	if event.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, event.CorrelationID)
	}

	var j *job.Job
	var err error
	if event.JobID != "" {
		j, err = c.queue.Claim(ctx, event.JobID)
	} else {
		j, err = c.queue.TryDequeue(ctx)
	}
	if errors.Is(err, job.ErrNoJob) {
		// Already claimed by the scheduler or another worker.
		c.logger.DebugContext(ctx, "trigger had no claimable job", "job_id", event.JobID)
		return nil
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to claim triggered job", "job_id", event.JobID, "error", err)
		return err
	}

	// Both outcomes ack the message: a failed job is already rescheduled or
	// terminal, and a bookkeeping error will be retried by the scheduler.
	if err := c.processor.ProcessJob(ctx, j); err != nil {
		if errors.Is(err, ErrJobFailed) {
			c.logger.WarnContext(ctx, "triggered job failed", "job_id", j.ID, "error", err)
		} else {
			c.logger.ErrorContext(ctx, "triggered job bookkeeping failed", "job_id", j.ID, "error", err)
		}
	}
	return nil
}
