// Package openai generates text through an OpenAI-compatible chat completion
// API. The defaults target a local Ollama server.
package openai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/nim-memory/core"
)

const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "qwen3:8b"
)

// Config configures the chat generator.
type Config struct {
	// BaseURL of the API (default: DefaultBaseURL).
	BaseURL string

	// APIKey is sent as a bearer token. Ollama ignores it.
	APIKey string

	// Model name (default: DefaultModel).
	Model string

	// Temperature for sampling. Zero uses the server default.
	Temperature float32

	// MaxTokens caps the reply. Zero uses the server default.
	MaxTokens int
}

// Generator implements core.Generator on /chat/completions.
type Generator struct {
	client *openai.Client
	config Config
}

var _ core.Generator = (*Generator)(nil)

// New creates a generator. It does not contact the server.
func New(cfg Config) *Generator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL

	return &Generator{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}
}

// Generate performs one chat completion and returns the first choice.
func (g *Generator) Generate(ctx context.Context, messages []core.Message) (string, error) {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		llmMessages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       g.config.Model,
		Messages:    llmMessages,
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %w", core.ErrGenerationUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty chat response", core.ErrGenerationUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}
