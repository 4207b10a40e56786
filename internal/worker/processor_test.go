package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"thebrain/backend/features/artifact"
	"thebrain/backend/features/job"
	"thebrain/backend/internal/worker"
)

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) TryDequeue(ctx context.Context) (*job.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}
func (m *MockQueue) Claim(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}
func (m *MockQueue) Complete(ctx context.Context, id string, result []byte) error {
	args := m.Called(ctx, id, result)
	return args.Error(0)
}
func (m *MockQueue) Fail(ctx context.Context, j *job.Job, cause error) error {
	args := m.Called(ctx, j, cause)
	return args.Error(0)
}
func (m *MockQueue) ReleaseExpired(ctx context.Context, lease time.Duration) (int, error) {
	args := m.Called(ctx, lease)
	return args.Int(0), args.Error(1)
}

type MockArtifacts struct {
	mock.Mock
}

func (m *MockArtifacts) Get(ctx context.Context, id string) (*artifact.Artifact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*artifact.Artifact), args.Error(1)
}
func (m *MockArtifacts) MarkIndexed(ctx context.Context, id string, embedding []float32, contentHash string, metadata map[string]interface{}) error {
	args := m.Called(ctx, id, embedding, contentHash, metadata)
	return args.Error(0)
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}
func (f *fakeEmbedder) Model() string { return "test-embed" }

type capturingStore struct {
	points []worker.Point
	err    error
}

func (c *capturingStore) Upsert(ctx context.Context, p worker.Point) error {
	if c.err != nil {
		return c.err
	}
	c.points = append(c.points, p)
	return nil
}

type fakeFiles struct {
	data map[string][]byte
	err  error
}

func (f *fakeFiles) Download(ctx context.Context, path string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[path], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func ingestJob(t *testing.T, payload worker.IngestPayload) *job.Job {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &job.Job{ID: "j1", JobType: job.TypeIngestArtifact, Status: job.StatusRunning, Payload: body, MaxRetries: 3}
}

func TestProcessor_IngestNote(t *testing.T) {
	queue := new(MockQueue)
	artifacts := new(MockArtifacts)
	store := &capturingStore{}
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}}

	a := &artifact.Artifact{ID: "a1", Name: "My Note", Type: artifact.TypeNote, Content: "remember this", CreatedAt: time.Now()}
	artifacts.On("Get", mock.Anything, "a1").Return(a, nil)
	artifacts.On("MarkIndexed", mock.Anything, "a1", []float32{0.1, 0.2}, mock.Anything, mock.MatchedBy(func(meta map[string]interface{}) bool {
		return meta["embedding_model"] == "test-embed" && meta["content_length"] == len("remember this")
	})).Return(nil)
	queue.On("Complete", mock.Anything, "j1", mock.Anything).Return(nil)

	p := worker.NewProcessor(queue, artifacts, embedder, store, &fakeFiles{}, testLogger())

	j := ingestJob(t, worker.IngestPayload{ArtifactID: "a1", Type: artifact.TypeNote, Name: "My Note", Content: "remember this"})
	err := p.ProcessJob(context.Background(), j)
	require.NoError(t, err)

	require.Len(t, store.points, 1)
	pt := store.points[0]
	assert.Equal(t, "a1", pt.ID)
	assert.Equal(t, "remember this", pt.Payload["text"])
	assert.Equal(t, "test-embed", pt.Payload["embedding_model"])
	queue.AssertExpectations(t)
	artifacts.AssertExpectations(t)
}

func TestProcessor_IngestFile(t *testing.T) {
	queue := new(MockQueue)
	artifacts := new(MockArtifacts)
	store := &capturingStore{}
	embedder := &fakeEmbedder{vector: []float32{0.5}}
	files := &fakeFiles{data: map[string][]byte{"uuid_doc.txt": []byte("file body")}}

	a := &artifact.Artifact{ID: "a1", Name: "Doc", Type: artifact.TypeFile, StoragePath: "uuid_doc.txt"}
	artifacts.On("Get", mock.Anything, "a1").Return(a, nil)
	artifacts.On("MarkIndexed", mock.Anything, "a1", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	queue.On("Complete", mock.Anything, "j1", mock.Anything).Return(nil)

	p := worker.NewProcessor(queue, artifacts, embedder, store, files, testLogger())

	j := ingestJob(t, worker.IngestPayload{ArtifactID: "a1", Type: artifact.TypeFile, StoragePath: "uuid_doc.txt"})
	require.NoError(t, p.ProcessJob(context.Background(), j))
	require.Len(t, store.points, 1)
	assert.Equal(t, "file body", store.points[0].Payload["text"])
}

func TestProcessor_IngestLinkUsesPlaceholder(t *testing.T) {
	queue := new(MockQueue)
	artifacts := new(MockArtifacts)
	store := &capturingStore{}

	a := &artifact.Artifact{ID: "a1", Name: "Docs", Type: artifact.TypeLink, URL: "http://example.com/docs"}
	artifacts.On("Get", mock.Anything, "a1").Return(a, nil)
	artifacts.On("MarkIndexed", mock.Anything, "a1", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	queue.On("Complete", mock.Anything, "j1", mock.Anything).Return(nil)

	p := worker.NewProcessor(queue, artifacts, &fakeEmbedder{vector: []float32{1}}, store, &fakeFiles{}, testLogger())

	j := ingestJob(t, worker.IngestPayload{ArtifactID: "a1", Type: artifact.TypeLink, URL: "http://example.com/docs"})
	require.NoError(t, p.ProcessJob(context.Background(), j))

	// Links are indexed by reference without fetching the page.
	require.Len(t, store.points, 1)
	assert.Equal(t, "Link: http://example.com/docs", store.points[0].Payload["text"])
}

func TestProcessor_UnsupportedFormatFailsJob(t *testing.T) {
	queue := new(MockQueue)
	artifacts := new(MockArtifacts)
	files := &fakeFiles{data: map[string][]byte{"uuid_report.pdf": []byte("%PDF-1.4")}}

	a := &artifact.Artifact{ID: "a1", Name: "Report", Type: artifact.TypeFile, StoragePath: "uuid_report.pdf"}
	artifacts.On("Get", mock.Anything, "a1").Return(a, nil)
	queue.On("Fail", mock.Anything, mock.Anything, mock.MatchedBy(func(err error) bool {
		return err != nil
	})).Return(nil)

	p := worker.NewProcessor(queue, artifacts, &fakeEmbedder{}, &capturingStore{}, files, testLogger())

	j := ingestJob(t, worker.IngestPayload{ArtifactID: "a1", Type: artifact.TypeFile, StoragePath: "uuid_report.pdf"})
	assert.ErrorIs(t, p.ProcessJob(context.Background(), j), worker.ErrJobFailed)
	queue.AssertExpectations(t)
	artifacts.AssertNotCalled(t, "MarkIndexed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_DocumentTypeFailsJob(t *testing.T) {
	queue := new(MockQueue)
	artifacts := new(MockArtifacts)
	store := &capturingStore{}

	a := &artifact.Artifact{ID: "a1", Name: "Draft", Type: artifact.TypeDocument, Content: "inline body"}
	artifacts.On("Get", mock.Anything, "a1").Return(a, nil)
	queue.On("Fail", mock.Anything, mock.Anything, mock.MatchedBy(func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "cannot process artifact type")
	})).Return(nil)

	p := worker.NewProcessor(queue, artifacts, &fakeEmbedder{vector: []float32{1}}, store, &fakeFiles{}, testLogger())

	// Inline content does not make a document ingestible.
	j := ingestJob(t, worker.IngestPayload{ArtifactID: "a1", Type: artifact.TypeDocument, Content: "inline body"})
	assert.ErrorIs(t, p.ProcessJob(context.Background(), j), worker.ErrJobFailed)

	assert.Empty(t, store.points)
	queue.AssertExpectations(t)
	artifacts.AssertNotCalled(t, "MarkIndexed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_EmbedFailureFailsJob(t *testing.T) {
	queue := new(MockQueue)
	artifacts := new(MockArtifacts)
	embedder := &fakeEmbedder{err: errors.New("ollama unreachable")}

	a := &artifact.Artifact{ID: "a1", Name: "Note", Type: artifact.TypeNote, Content: "text"}
	artifacts.On("Get", mock.Anything, "a1").Return(a, nil)
	queue.On("Fail", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p := worker.NewProcessor(queue, artifacts, embedder, &capturingStore{}, &fakeFiles{}, testLogger())

	j := ingestJob(t, worker.IngestPayload{ArtifactID: "a1", Type: artifact.TypeNote, Content: "text"})
	assert.ErrorIs(t, p.ProcessJob(context.Background(), j), worker.ErrJobFailed)
	queue.AssertExpectations(t)
}

func TestProcessor_MissingPayloadArtifactFailsJob(t *testing.T) {
	queue := new(MockQueue)
	queue.On("Fail", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p := worker.NewProcessor(queue, new(MockArtifacts), &fakeEmbedder{}, &capturingStore{}, &fakeFiles{}, testLogger())

	j := &job.Job{ID: "j1", JobType: job.TypeIngestArtifact, Payload: []byte(`{}`)}
	assert.ErrorIs(t, p.ProcessJob(context.Background(), j), worker.ErrJobFailed)
	queue.AssertExpectations(t)
}

func TestProcessor_UnknownJobTypeFailsJob(t *testing.T) {
	queue := new(MockQueue)
	queue.On("Fail", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p := worker.NewProcessor(queue, new(MockArtifacts), &fakeEmbedder{}, &capturingStore{}, &fakeFiles{}, testLogger())

	j := &job.Job{ID: "j1", JobType: "mystery", Payload: []byte(`{}`)}
	assert.ErrorIs(t, p.ProcessJob(context.Background(), j), worker.ErrJobFailed)
	queue.AssertExpectations(t)
}

func TestProcessor_FailRecordingErrorSurfacesUnwrapped(t *testing.T) {
	queue := new(MockQueue)
	queue.On("Fail", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))

	p := worker.NewProcessor(queue, new(MockArtifacts), &fakeEmbedder{}, &capturingStore{}, &fakeFiles{}, testLogger())

	j := &job.Job{ID: "j1", JobType: "mystery", Payload: []byte(`{}`)}
	err := p.ProcessJob(context.Background(), j)
	require.Error(t, err)
	assert.NotErrorIs(t, err, worker.ErrJobFailed)
	assert.ErrorContains(t, err, "record failure")
}

func TestProcessor_TruncatesPayloadText(t *testing.T) {
	queue := new(MockQueue)
	artifacts := new(MockArtifacts)
	store := &capturingStore{}

	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}

	a := &artifact.Artifact{ID: "a1", Name: "Big", Type: artifact.TypeNote, Content: string(long)}
	artifacts.On("Get", mock.Anything, "a1").Return(a, nil)
	artifacts.On("MarkIndexed", mock.Anything, "a1", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	queue.On("Complete", mock.Anything, "j1", mock.Anything).Return(nil)

	p := worker.NewProcessor(queue, artifacts, &fakeEmbedder{vector: []float32{1}}, store, &fakeFiles{}, testLogger())

	j := ingestJob(t, worker.IngestPayload{ArtifactID: "a1", Type: artifact.TypeNote, Content: string(long)})
	require.NoError(t, p.ProcessJob(context.Background(), j))

	require.Len(t, store.points, 1)
	text := store.points[0].Payload["text"].(string)
	assert.Len(t, text, 1000)
}
