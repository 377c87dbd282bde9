// Package llm defines the completion/embedding provider contract the
// query-resolution core consumes, and two concrete providers.
package llm

import (
	"context"
	"time"
)

// Usage reports token accounting for a completion call, when the provider
// exposes it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerateResult is the outcome of one completion call.
type GenerateResult struct {
	Content string
	Success bool
	Error   string
	Usage   Usage
}

// Generator is the blocking completion contract the core's agents consume.
type Generator interface {
	// Generate runs one system/user completion. timeout, if non-zero, bounds
	// the call independently of ctx's own deadline.
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int, timeout time.Duration) (*GenerateResult, error)
}

// Embedder is the vectorizer contract the retrieval store consumes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Client composes both roles; the default OpenAI-backed implementation
// satisfies it. A Generator-only provider (such as the Anthropic client)
// may be used independently wherever only completions are needed.
type Client interface {
	Generator
	Embedder
}
