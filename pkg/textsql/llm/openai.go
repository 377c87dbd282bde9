package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	ekayallm "github.com/ekaya-inc/ekaya-engine/pkg/llm"
)

// OpenAIConfig configures the default completion/embedding provider.
type OpenAIConfig struct {
	Endpoint       string // base URL, e.g. "https://api.openai.com/v1"
	Model          string // completion model
	EmbeddingModel string
	EmbeddingDim   int
	APIKey         string
}

// OpenAIClient is the default Client implementation, backed by an
// OpenAI-compatible chat-completion and embedding API.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	embeddingDim   int
	logger         *zap.Logger
}

// NewOpenAIClient constructs an OpenAIClient.
func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1536
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		embeddingDim:   cfg.EmbeddingDim,
		logger:         logger.Named("textsql.llm.openai"),
	}, nil
}

// Generate runs one system/user completion, bounded by timeout.
func (c *OpenAIClient) Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int, timeout time.Duration) (*GenerateResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	})
	if err != nil {
		classified := ekayallm.ClassifyError(err)
		c.logger.Error("completion request failed",
			zap.Duration("elapsed", time.Since(start)), zap.Error(classified))
		return &GenerateResult{Success: false, Error: classified.Error()}, classified
	}
	if len(resp.Choices) == 0 {
		return &GenerateResult{Success: false, Error: "no choices in response"}, fmt.Errorf("no choices in response")
	}

	return &GenerateResult{
		Content: resp.Choices[0].Message.Content,
		Success: true,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Embed returns a single embedding vector.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one embedding vector per input.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: texts,
	})
	if err != nil {
		return nil, ekayallm.ClassifyError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: requested %d, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Dimension returns the configured embedding dimension.
func (c *OpenAIClient) Dimension() int {
	return c.embeddingDim
}

var _ Client = (*OpenAIClient)(nil)
