package llm

import (
	"context"
	"fmt"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicConfig configures the alternate completion provider.
type AnthropicConfig struct {
	Model  string
	APIKey string
}

// AnthropicClient is a second Generator implementation, selectable in place
// of the default OpenAI provider; the binary then hands this one generator to
// every component.
type AnthropicClient struct {
	client *anthropic.Client
	model  anthropic.Model
	logger *zap.Logger
}

// NewAnthropicClient constructs an AnthropicClient.
func NewAnthropicClient(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaude3Dot5SonnetLatest
	}
	return &AnthropicClient{
		client: anthropic.NewClient(cfg.APIKey),
		model:  model,
		logger: logger.Named("textsql.llm.anthropic"),
	}, nil
}

// Generate runs one system/user completion, bounded by timeout.
func (c *AnthropicClient) Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int, timeout time.Duration) (*GenerateResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	temp := float32(temperature)

	start := time.Now()
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       c.model,
		System:      systemPrompt,
		MaxTokens:   maxTokens,
		Temperature: &temp,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(userPrompt),
		},
	})
	if err != nil {
		c.logger.Error("completion request failed",
			zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return &GenerateResult{Success: false, Error: err.Error()}, err
	}
	if len(resp.Content) == 0 {
		return &GenerateResult{Success: false, Error: "no content in response"}, fmt.Errorf("no content in response")
	}

	return &GenerateResult{
		Content: resp.Content[0].GetText(),
		Success: true,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

var _ Generator = (*AnthropicClient)(nil)
