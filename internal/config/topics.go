package config

const (
	// TopicIngestTrigger carries "process this job now" events published when
	// an artifact is created, so the worker picks the job up without waiting
	// for the next scheduler tick.
	TopicIngestTrigger = "ingest.trigger"
)
