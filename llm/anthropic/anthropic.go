// Package anthropic generates text with Claude through the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/nim-memory/core"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// Config configures the Claude generator.
type Config struct {
	// APIKey for the Anthropic API. Empty falls back to ANTHROPIC_API_KEY.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// Model is the Claude model to use (default: DefaultModel).
	Model string

	// MaxTokens is the maximum response tokens (default: DefaultMaxTokens).
	MaxTokens int64

	// MaxRetries is passed to the SDK client. Zero disables retries.
	MaxRetries int
}

// Generator implements core.Generator on Claude.
type Generator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

var _ core.Generator = (*Generator)(nil)

// New creates a Claude generator.
func New(cfg Config) *Generator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Generator{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Generate sends messages to Claude and returns the concatenated text blocks.
// System messages are joined into the request's system prompt.
func (g *Generator) Generate(ctx context.Context, messages []core.Message) (string, error) {
	system, params := toParams(messages)
	if len(params) == 0 {
		return "", fmt.Errorf("%w: no user or assistant messages", core.ErrGenerationUnavailable)
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages:  params,
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := g.client.Messages.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: claude api error: %w", core.ErrGenerationUnavailable, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

func toParams(messages []core.Message) (string, []anthropic.MessageParam) {
	var (
		system []string
		params []anthropic.MessageParam
	)
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			system = append(system, m.Content)
		case core.RoleUser:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case core.RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return strings.Join(system, "\n\n"), params
}
