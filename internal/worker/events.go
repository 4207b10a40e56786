package worker

// IngestPayload is the job payload written by the artifact service.
type IngestPayload struct {
	ArtifactID  string `json:"artifactId"`
	StoragePath string `json:"storagePath,omitempty"`
	URL         string `json:"url,omitempty"`
	Content     string `json:"content,omitempty"`
	Type        string `json:"type"`
	Name        string `json:"name"`
}

// TriggerEvent is published on the ingest trigger topic to wake a worker
// immediately instead of waiting for the next scheduler tick.
type TriggerEvent struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
