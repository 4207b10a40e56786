// Package memory provides deterministic in-process stand-ins for the Ollama
// and Qdrant adapters. They are selected in development mode so the full
// ingest and query pipelines run without external services.
package memory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"

	"thebrain/backend/internal/rag"
	"thebrain/backend/internal/worker"
)

const mockDimension = 384

// Embedder derives a unit vector from the sha256 of the text. Identical text
// always embeds identically, so round-trip tests score an exact match.
type Embedder struct{}

func NewEmbedder() *Embedder { return &Embedder{} }

func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	seed := sha256.Sum256([]byte(text))
	vector := make([]float32, mockDimension)
	for i := range vector {
		b := seed[i%len(seed)]
		vector[i] = (float32(b) - 128) / 128
	}
	return vector, nil
}

func (e *Embedder) Model() string { return "mock-embed" }

// Store keeps points in memory and searches them by cosine similarity.
type Store struct {
	mu     sync.RWMutex
	points map[string]worker.Point
}

func NewStore() *Store {
	return &Store{points: make(map[string]worker.Point)}
}

func (s *Store) EnsureCollection(context.Context) error { return nil }

func (s *Store) Upsert(_ context.Context, p worker.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[p.ID] = p
	return nil
}

func (s *Store) Search(_ context.Context, vector []float32, limit int, threshold float32) ([]rag.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.points) == 0 {
		return cannedHits(), nil
	}

	var hits []rag.Hit
	for id, p := range s.points {
		score := cosine(vector, p.Vector)
		if score < threshold {
			continue
		}
		hits = append(hits, rag.Hit{ID: id, Score: score, Payload: p.Payload})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) DeletePoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.points, id)
	return nil
}

func (s *Store) CountPoints(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.points)), nil
}

// cannedHits gives the query pipeline something to work with on an empty
// index, keeping dev-mode demos functional before anything is ingested.
func cannedHits() []rag.Hit {
	return []rag.Hit{
		{
			ID:    "00000000-0000-0000-0000-000000000001",
			Score: 0.92,
			Payload: map[string]interface{}{
				"artifact_id":     "00000000-0000-0000-0000-000000000001",
				"name":            "Getting started",
				"type":            "note",
				"text":            "This is a development-mode knowledge base. Ingest artifacts to replace these placeholder results.",
				"embedding_model": "mock-embed",
			},
		},
		{
			ID:    "00000000-0000-0000-0000-000000000002",
			Score: 0.85,
			Payload: map[string]interface{}{
				"artifact_id":     "00000000-0000-0000-0000-000000000002",
				"name":            "Sample document",
				"type":            "document",
				"text":            "Sample content used to exercise the query pipeline without a running vector database.",
				"embedding_model": "mock-embed",
			},
		},
	}
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var questionPattern = regexp.MustCompile(`Question: (.+)`)

// Generator echoes a canned completion that names the question it was asked.
type Generator struct{}

func NewGenerator() *Generator { return &Generator{} }

func (g *Generator) Generate(_ context.Context, prompt string) (string, error) {
	question := "your question"
	if m := questionPattern.FindStringSubmatch(prompt); len(m) == 2 {
		question = m[1]
	}
	return fmt.Sprintf("Development-mode answer to %q based on the provided knowledge snippets.", question), nil
}
