package job

import (
	"encoding/json"
	"errors"
	"time"
)

// TypeIngestArtifact is the only job type the worker currently understands.
const TypeIngestArtifact = "ingest_artifact"

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRetrying  = "retrying"
)

const (
	DefaultPriority   = 1
	DefaultMaxRetries = 3
)

// ErrNoJob is returned when no eligible job exists, or when a claim lost the
// race against a concurrent worker.
var ErrNoJob = errors.New("no job available")

type Job struct {
	ID           string          `json:"id"`
	JobType      string          `json:"job_type"`
	Status       string          `json:"status"`
	Priority     int             `json:"priority"`
	Payload      json.RawMessage `json:"payload"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	NextRunAt    time.Time       `json:"next_run_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NextBackoff returns the delay before the next attempt: 5 minutes doubled
// per recorded failure (5, 10, 20, 40, ...).
func (j *Job) NextBackoff() time.Duration {
	return 5 * time.Minute << uint(j.RetryCount)
}
