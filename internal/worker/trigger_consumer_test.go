package worker_test

import (
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"thebrain/backend/features/artifact"
	"thebrain/backend/features/job"
	"thebrain/backend/internal/worker"
)

func triggerMessage(body string) *nsq.Message {
	return nsq.NewMessage(nsq.MessageID{}, []byte(body))
}

func TestTriggerConsumer_ProcessesNamedJob(t *testing.T) {
	queue := new(MockQueue)
	artifacts := new(MockArtifacts)
	store := &capturingStore{}

	a := &artifact.Artifact{ID: "a1", Name: "Note", Type: artifact.TypeNote, Content: "text"}
	j := ingestJob(t, worker.IngestPayload{ArtifactID: "a1", Type: artifact.TypeNote, Content: "text"})

	queue.On("Claim", mock.Anything, "j1").Return(j, nil)
	artifacts.On("Get", mock.Anything, "a1").Return(a, nil)
	artifacts.On("MarkIndexed", mock.Anything, "a1", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	queue.On("Complete", mock.Anything, "j1", mock.Anything).Return(nil)

	p := worker.NewProcessor(queue, artifacts, &fakeEmbedder{vector: []float32{1}}, store, &fakeFiles{}, testLogger())
	c := worker.NewTriggerConsumer(p, queue, testLogger())

	err := c.HandleMessage(triggerMessage(`{"job_id":"j1","correlation_id":"corr-1"}`))
	require.NoError(t, err)
	assert.Len(t, store.points, 1)
}

func TestTriggerConsumer_DiscardsMalformedMessage(t *testing.T) {
	queue := new(MockQueue)
	p := worker.NewProcessor(queue, new(MockArtifacts), &fakeEmbedder{}, &capturingStore{}, &fakeFiles{}, testLogger())
	c := worker.NewTriggerConsumer(p, queue, testLogger())

	// Returning nil acknowledges the message so NSQ does not requeue it.
	assert.NoError(t, c.HandleMessage(triggerMessage("not json")))
	queue.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything)
}

func TestTriggerConsumer_LostClaimRaceIsAcked(t *testing.T) {
	queue := new(MockQueue)
	queue.On("Claim", mock.Anything, "j1").Return(nil, job.ErrNoJob)

	p := worker.NewProcessor(queue, new(MockArtifacts), &fakeEmbedder{}, &capturingStore{}, &fakeFiles{}, testLogger())
	c := worker.NewTriggerConsumer(p, queue, testLogger())

	assert.NoError(t, c.HandleMessage(triggerMessage(`{"job_id":"j1"}`)))
}

func TestTriggerConsumer_FailedJobIsAcked(t *testing.T) {
	queue := new(MockQueue)
	artifacts := new(MockArtifacts)

	j := ingestJob(t, worker.IngestPayload{ArtifactID: "a1", Type: artifact.TypeNote, Content: "text"})
	queue.On("Claim", mock.Anything, "j1").Return(j, nil)
	artifacts.On("Get", mock.Anything, "a1").Return(nil, errors.New("artifact missing"))
	queue.On("Fail", mock.Anything, j, mock.Anything).Return(nil)

	p := worker.NewProcessor(queue, artifacts, &fakeEmbedder{}, &capturingStore{}, &fakeFiles{}, testLogger())
	c := worker.NewTriggerConsumer(p, queue, testLogger())

	// The failure is recorded on the job, so the message must not requeue.
	assert.NoError(t, c.HandleMessage(triggerMessage(`{"job_id":"j1"}`)))
	queue.AssertExpectations(t)
}

func TestTriggerConsumer_NoJobIDFallsBackToDequeue(t *testing.T) {
	queue := new(MockQueue)
	queue.On("TryDequeue", mock.Anything).Return(nil, job.ErrNoJob)

	p := worker.NewProcessor(queue, new(MockArtifacts), &fakeEmbedder{}, &capturingStore{}, &fakeFiles{}, testLogger())
	c := worker.NewTriggerConsumer(p, queue, testLogger())

	assert.NoError(t, c.HandleMessage(triggerMessage(`{}`)))
	queue.AssertExpectations(t)
}
