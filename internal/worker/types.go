// Package worker executes queued ingestion jobs: resolve the artifact's
// content, extract text, embed it and upsert the vector before marking the
// artifact indexed.
package worker

import (
	"context"
	"time"

	"thebrain/backend/features/artifact"
	"thebrain/backend/features/job"
)

// Point is a vector plus payload addressed by the artifact id, so
// re-ingestion overwrites in place.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

type Queue interface {
	TryDequeue(ctx context.Context) (*job.Job, error)
	Claim(ctx context.Context, id string) (*job.Job, error)
	Complete(ctx context.Context, id string, result []byte) error
	Fail(ctx context.Context, j *job.Job, cause error) error
	ReleaseExpired(ctx context.Context, lease time.Duration) (int, error)
}

type Artifacts interface {
	Get(ctx context.Context, id string) (*artifact.Artifact, error)
	MarkIndexed(ctx context.Context, id string, embedding []float32, contentHash string, metadata map[string]interface{}) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type VectorStore interface {
	Upsert(ctx context.Context, p Point) error
}

type FileStore interface {
	Download(ctx context.Context, path string) ([]byte, error)
}
