package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"thebrain/backend/features/job"
	"thebrain/backend/internal/config"
	"thebrain/backend/internal/middleware"
)

var (
	ErrNameRequired        = errors.New("name is required")
	ErrTypeRequired        = errors.New("type is required")
	ErrInvalidType         = errors.New("invalid artifact type")
	ErrStoragePathRequired = errors.New("storage path is required for file uploads")
)

type JobQueue interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}, priority int) (*job.Job, error)
}

type TriggerPublisher interface {
	Publish(topic string, body []byte) error
}

type PointDeleter interface {
	DeletePoint(ctx context.Context, id string) error
}

type Service struct {
	repo   Repository
	queue  JobQueue
	pub    TriggerPublisher
	points PointDeleter
}

func NewService(repo Repository, queue JobQueue, pub TriggerPublisher, points PointDeleter) *Service {
	return &Service{repo: repo, queue: queue, pub: pub, points: points}
}

// ingestPayload is the job payload consumed by the ingestion worker.
type ingestPayload struct {
	ArtifactID  string `json:"artifactId"`
	StoragePath string `json:"storagePath,omitempty"`
	URL         string `json:"url,omitempty"`
	Content     string `json:"content,omitempty"`
	Type        string `json:"type"`
	Name        string `json:"name"`
}

// Create stores the artifact in processing state and queues its ingestion.
// Queueing and the immediate trigger are best-effort: the artifact survives
// either failing, and the scheduler picks the job up later if only the
// trigger was lost.
func (s *Service) Create(ctx context.Context, a *Artifact) (*job.Job, error) {
	if a.Name == "" {
		return nil, ErrNameRequired
	}
	if a.Type == "" {
		return nil, ErrTypeRequired
	}
	if !ValidType(a.Type) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, a.Type)
	}
	if a.Type == TypeFile && a.StoragePath == "" {
		return nil, ErrStoragePathRequired
	}

	if err := s.repo.Save(ctx, a); err != nil {
		return nil, err
	}

	j := s.enqueueIngestion(ctx, a)
	return j, nil
}

func (s *Service) enqueueIngestion(ctx context.Context, a *Artifact) *job.Job {
	payload := ingestPayload{
		ArtifactID:  a.ID,
		StoragePath: a.StoragePath,
		URL:         a.URL,
		Content:     a.Content,
		Type:        a.Type,
		Name:        a.Name,
	}

	j, err := s.queue.Enqueue(ctx, job.TypeIngestArtifact, payload, job.DefaultPriority)
	if err != nil {
		slog.WarnContext(ctx, "artifact created but job enqueue failed", "artifact_id", a.ID, "error", err)
		return nil
	}

	trigger, _ := json.Marshal(map[string]string{
		"job_id":         j.ID,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicIngestTrigger, trigger); err != nil {
		slog.WarnContext(ctx, "failed to publish immediate trigger, scheduler will pick the job up", "job_id", j.ID, "error", err)
	} else {
		slog.InfoContext(ctx, "published immediate ingestion trigger", "job_id", j.ID, "artifact_id", a.ID)
	}
	return j
}

func (s *Service) Get(ctx context.Context, id string) (*Artifact, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Artifact, int, error) {
	return s.repo.List(ctx, f)
}

// Delete removes the artifact row and its point in the vector index.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.points.DeletePoint(ctx, id); err != nil {
		return fmt.Errorf("delete vector point: %w", err)
	}
	return s.repo.Delete(ctx, id)
}

// ReIngest puts a terminal artifact back through the pipeline with a fresh
// job. This is the only sanctioned way out of indexed/failed.
func (s *Service) ReIngest(ctx context.Context, id string) (*job.Job, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, id, StatusProcessing); err != nil {
		return nil, err
	}

	return s.enqueueIngestion(ctx, a), nil
}
