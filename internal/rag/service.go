// Package rag answers natural-language questions from the indexed knowledge
// base. The pipeline is stateless: embed the question, search the vector
// index, assemble a grounded prompt and generate a completion.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	searchLimit    = 5
	scoreThreshold = 0.7
	snippetLimit   = 500
)

var (
	ErrEmptyQuestion = errors.New("question is required")
	// ErrNoKnowledge signals that no indexed content scored above the
	// relevance threshold.
	ErrNoKnowledge = errors.New("no relevant knowledge found")
)

// Hit is a scored match from the vector index.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// Source identifies an artifact that contributed to an answer. The snippet
// is the same truncated text that went into the prompt.
type Source struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
}

type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type VectorStore interface {
	Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]Hit, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Service struct {
	embedder  Embedder
	store     VectorStore
	generator Generator
}

func NewService(embedder Embedder, store VectorStore, generator Generator) *Service {
	return &Service{embedder: embedder, store: store, generator: generator}
}

// Query runs the full question-answering pipeline. Hits indexed under a
// different embedding model are dropped since their scores are not comparable
// with the current model's vector space.
func (s *Service) Query(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	hits, err := s.store.Search(ctx, vector, searchLimit, scoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}

	hits = s.filterCompatible(ctx, hits)
	if len(hits) == 0 {
		return nil, ErrNoKnowledge
	}

	prompt, sources := buildPrompt(question, hits)

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	slog.InfoContext(ctx, "query answered", "hits", len(hits), "answer_length", len(text))
	return &Answer{Text: strings.TrimSpace(text), Sources: sources}, nil
}

func (s *Service) filterCompatible(ctx context.Context, hits []Hit) []Hit {
	model := s.embedder.Model()
	kept := hits[:0]
	for _, h := range hits {
		m, ok := h.Payload["embedding_model"].(string)
		if ok && m != model {
			slog.WarnContext(ctx, "dropping hit indexed under different embedding model",
				"point_id", h.ID, "indexed_model", m, "query_model", model)
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

func buildPrompt(question string, hits []Hit) (string, []Source) {
	var b strings.Builder
	b.WriteString("You are a helpful assistant answering questions using the user's personal knowledge base. ")
	b.WriteString("Answer using only the knowledge snippets below. ")
	b.WriteString("If the snippets do not contain the answer, say so.\n\n")
	b.WriteString("KNOWLEDGE SNIPPETS:\n")

	sources := make([]Source, 0, len(hits))
	for i, h := range hits {
		name := payloadString(h.Payload, "name")
		typ := payloadString(h.Payload, "type")
		text := snippet(h, name, typ)

		b.WriteString(fmt.Sprintf("\n[%d] %s\n", i+1, text))
		b.WriteString(fmt.Sprintf("Source: %s (%s)\n", name, typ))

		id := payloadString(h.Payload, "artifact_id")
		if id == "" {
			id = h.ID
		}
		sources = append(sources, Source{ID: id, Snippet: text})
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer: ")
	return b.String(), sources
}

// snippet picks the best available text for a hit, preferring a stored
// preview over full text, and truncates it.
func snippet(h Hit, name, typ string) string {
	text := payloadString(h.Payload, "content_preview")
	if text == "" {
		text = payloadString(h.Payload, "text")
	}
	if text == "" {
		return fmt.Sprintf("%s (%s)", name, typ)
	}
	return truncate(text, snippetLimit)
}

func payloadString(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
