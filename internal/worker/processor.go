package worker

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"thebrain/backend/features/artifact"
	"thebrain/backend/features/job"
	"thebrain/backend/internal/extract"
)

// previewLimit bounds the text copy stored in the point payload.
const previewLimit = 1000

// ErrJobFailed wraps a processing error that has already been recorded on the
// job. Callers that only care about queue bookkeeping can treat it as handled.
var ErrJobFailed = errors.New("job failed")

type Processor struct {
	queue     Queue
	artifacts Artifacts
	embedder  Embedder
	vectors   VectorStore
	files     FileStore
	logger    *slog.Logger
}

func NewProcessor(queue Queue, artifacts Artifacts, embedder Embedder, vectors VectorStore, files FileStore, logger *slog.Logger) *Processor {
	return &Processor{
		queue:     queue,
		artifacts: artifacts,
		embedder:  embedder,
		vectors:   vectors,
		files:     files,
		logger:    logger,
	}
}

// ProcessNext claims the highest-priority due job and runs it. Returns
// job.ErrNoJob when the queue is empty.
func (p *Processor) ProcessNext(ctx context.Context) (*job.Job, error) {
	j, err := p.queue.TryDequeue(ctx)
	if err != nil {
		return nil, err
	}
	return j, p.ProcessJob(ctx, j)
}

// ProcessJob runs an already-claimed job. Processing errors are recorded on
// the job via Fail and returned wrapped in ErrJobFailed so callers can report
// the outcome; bookkeeping failures surface unwrapped.
func (p *Processor) ProcessJob(ctx context.Context, j *job.Job) error {
	p.logger.InfoContext(ctx, "processing job", "job_id", j.ID, "job_type", j.JobType, "retry_count", j.RetryCount)
	start := time.Now()

	var result map[string]interface{}
	var err error
	switch j.JobType {
	case job.TypeIngestArtifact:
		result, err = p.ingest(ctx, j)
	default:
		err = fmt.Errorf("unknown job type %q", j.JobType)
	}

	var body []byte
	if err == nil {
		result["duration_ms"] = time.Since(start).Milliseconds()
		if body, err = json.Marshal(result); err != nil {
			err = fmt.Errorf("marshal result: %w", err)
		}
	}

	if err != nil {
		if ferr := p.queue.Fail(ctx, j, err); ferr != nil {
			return fmt.Errorf("record failure for job %s: %w", j.ID, ferr)
		}
		return fmt.Errorf("%w: %v", ErrJobFailed, err)
	}

	if err := p.queue.Complete(ctx, j.ID, body); err != nil {
		return fmt.Errorf("complete job %s: %w", j.ID, err)
	}
	p.logger.InfoContext(ctx, "job completed", "job_id", j.ID, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *Processor) ingest(ctx context.Context, j *job.Job) (map[string]interface{}, error) {
	var payload IngestPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return nil, fmt.Errorf("parse job payload: %w", err)
	}
	if payload.ArtifactID == "" {
		return nil, errors.New("job payload has no artifactId")
	}

	a, err := p.artifacts.Get(ctx, payload.ArtifactID)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", payload.ArtifactID, err)
	}

	text, err := p.resolveText(ctx, a, payload)
	if err != nil {
		return nil, err
	}

	vector, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed artifact %s: %w", a.ID, err)
	}

	point := Point{
		ID:     a.ID,
		Vector: vector,
		Payload: map[string]interface{}{
			"artifact_id":     a.ID,
			"name":            a.Name,
			"type":            a.Type,
			"text":            truncate(text, previewLimit),
			"url":             a.URL,
			"created_at":      a.CreatedAt.Format(time.RFC3339),
			"embedding_model": p.embedder.Model(),
		},
	}
	if len(a.Metadata) > 0 {
		point.Payload["metadata"] = a.Metadata
	}
	if err := p.vectors.Upsert(ctx, point); err != nil {
		return nil, fmt.Errorf("upsert vector for artifact %s: %w", a.ID, err)
	}

	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(text)))
	metadata := map[string]interface{}{
		"content_length":  len(text),
		"processed_at":    time.Now().Format(time.RFC3339),
		"embedding_model": p.embedder.Model(),
	}
	if err := p.artifacts.MarkIndexed(ctx, a.ID, vector, hash, metadata); err != nil {
		return nil, fmt.Errorf("mark artifact %s indexed: %w", a.ID, err)
	}

	return map[string]interface{}{
		"artifact_id":    a.ID,
		"content_length": len(text),
		"vector_size":    len(vector),
	}, nil
}

// resolveText picks the artifact's text source by type. The payload is
// preferred over the row so re-ingestion reflects edited content.
func (p *Processor) resolveText(ctx context.Context, a *artifact.Artifact, payload IngestPayload) (string, error) {
	switch a.Type {
	case artifact.TypeFile:
		path := payload.StoragePath
		if path == "" {
			path = a.StoragePath
		}
		if path == "" {
			return "", errors.New("file artifact has no storage path")
		}
		data, err := p.files.Download(ctx, path)
		if err != nil {
			return "", fmt.Errorf("download %s: %w", path, err)
		}
		text, err := extract.Text(data, path)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", path, err)
		}
		return text, nil

	case artifact.TypeLink:
		// Links are indexed by reference, not fetched.
		url := stringOr(payload.URL, a.URL)
		if url == "" {
			return "", errors.New("link artifact has no url")
		}
		return fmt.Sprintf("Link: %s", url), nil

	case artifact.TypeNote:
		if text := stringOr(payload.Content, a.Content); text != "" {
			return text, nil
		}
		return "", errors.New("note artifact has no text content")

	default:
		return "", fmt.Errorf("cannot process artifact type %q", a.Type)
	}
}

func stringOr(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
