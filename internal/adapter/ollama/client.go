// Package ollama adapts a local Ollama server for embedding and completion.
package ollama

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	lcollama "github.com/tmc/langchaingo/llms/ollama"
)

// Embedder produces fixed-dimension embeddings. The dimension is validated on
// every call since a model swap on the Ollama side would silently corrupt the
// vector index otherwise.
type Embedder struct {
	embedder  *embeddings.EmbedderImpl
	model     string
	dimension int
}

func NewEmbedder(serverURL, model string, dimension int) (*Embedder, error) {
	llm, err := lcollama.New(lcollama.WithServerURL(serverURL), lcollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &Embedder{embedder: emb, model: model, dimension: dimension}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed with %s: %w", e.model, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}
	if len(vectors[0]) != e.dimension {
		return nil, fmt.Errorf("model %s returned %d dimensions, expected %d", e.model, len(vectors[0]), e.dimension)
	}
	return vectors[0], nil
}

func (e *Embedder) Model() string {
	return e.model
}

// Generator produces chat completions with fixed sampling parameters.
type Generator struct {
	llm   *lcollama.LLM
	model string
}

func NewGenerator(serverURL, model string) (*Generator, error) {
	llm, err := lcollama.New(lcollama.WithServerURL(serverURL), lcollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &Generator{llm: llm, model: model}, nil
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt,
		llms.WithTemperature(0.7),
		llms.WithTopP(0.9),
		llms.WithMaxTokens(1000),
	)
	if err != nil {
		return "", fmt.Errorf("generate with %s: %w", g.model, err)
	}
	return text, nil
}
