package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"thebrain/backend/internal/config"
)

// ArtifactFailer propagates a permanent job failure to the artifact the job
// was ingesting. The job payload's artifactId is the only link between them.
type ArtifactFailer interface {
	MarkFailed(ctx context.Context, id, errMsg string) error
}

type TriggerPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo      Repository
	artifacts ArtifactFailer
	pub       TriggerPublisher
	logger    *slog.Logger
}

func NewService(repo Repository, artifacts ArtifactFailer, pub TriggerPublisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, artifacts: artifacts, pub: pub, logger: logger}
}

// Enqueue inserts a pending job carrying the given payload.
func (s *Service) Enqueue(ctx context.Context, jobType string, payload interface{}, priority int) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	if priority == 0 {
		priority = DefaultPriority
	}

	j := &Job{
		JobType:    jobType,
		Priority:   priority,
		Payload:    body,
		MaxRetries: DefaultMaxRetries,
	}
	if err := s.repo.Enqueue(ctx, j); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "job enqueued", "job_id", j.ID, "job_type", jobType, "priority", priority)
	return j, nil
}

func (s *Service) TryDequeue(ctx context.Context) (*Job, error) {
	return s.repo.TryDequeue(ctx)
}

func (s *Service) Claim(ctx context.Context, id string) (*Job, error) {
	return s.repo.Claim(ctx, id)
}

func (s *Service) Complete(ctx context.Context, id string, result []byte) error {
	return s.repo.Complete(ctx, id, result)
}

// Fail records a failed attempt. While retries remain the job is rescheduled
// with exponential backoff; once they are exhausted the job becomes failed
// permanently and the artifact it references is failed along with it.
func (s *Service) Fail(ctx context.Context, j *Job, cause error) error {
	newCount := j.RetryCount + 1

	if newCount < j.MaxRetries {
		nextRunAt := time.Now().Add(j.NextBackoff())
		s.logger.WarnContext(ctx, "job attempt failed, scheduling retry",
			"job_id", j.ID, "retry", newCount, "max_retries", j.MaxRetries, "next_run_at", nextRunAt, "error", cause)
		return s.repo.MarkRetrying(ctx, j.ID, newCount, cause.Error(), nextRunAt)
	}

	s.logger.ErrorContext(ctx, "job failed permanently", "job_id", j.ID, "attempts", newCount, "error", cause)
	if err := s.repo.MarkFailed(ctx, j.ID, newCount, cause.Error()); err != nil {
		return err
	}

	var p struct {
		ArtifactID string `json:"artifactId"`
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil || p.ArtifactID == "" {
		s.logger.WarnContext(ctx, "failed job has no artifact reference", "job_id", j.ID)
		return nil
	}
	if err := s.artifacts.MarkFailed(ctx, p.ArtifactID, cause.Error()); err != nil {
		s.logger.ErrorContext(ctx, "failed to propagate failure to artifact", "artifact_id", p.ArtifactID, "error", err)
	}
	return nil
}

// ReleaseExpired recovers jobs stuck in running by a crashed worker.
func (s *Service) ReleaseExpired(ctx context.Context, lease time.Duration) (int, error) {
	n, err := s.repo.ReleaseExpired(ctx, time.Now().Add(-lease))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WarnContext(ctx, "released expired running jobs", "count", n, "lease", lease)
	}
	return n, nil
}

// Retry re-arms a permanently failed job and nudges the worker.
func (s *Service) Retry(ctx context.Context, id string) error {
	if err := s.repo.Reset(ctx, id); err != nil {
		return err
	}

	if s.pub != nil {
		body, _ := json.Marshal(map[string]string{"job_id": id})
		if err := s.pub.Publish(config.TopicIngestTrigger, body); err != nil {
			s.logger.WarnContext(ctx, "failed to publish retry trigger", "job_id", id, "error", err)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, status string) ([]Job, error) {
	return s.repo.List(ctx, status)
}

func (s *Service) CountByStatus(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByStatus(ctx)
}
