package openai

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/nim-memory/memory"
)

// Defaults target a local Ollama server through its OpenAI-compatible API.
const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "nomic-embed-text"
)

// Config configures the OpenAI-compatible embedder.
type Config struct {
	// BaseURL of the API (default: DefaultBaseURL).
	BaseURL string

	// APIKey is sent as a bearer token. Ollama ignores it.
	APIKey string

	// Model name (default: DefaultModel).
	Model string

	// Dimensions requests a vector size from models that support it.
	// Zero uses the model's native size, learned from the first response.
	Dimensions int
}

// Embedder calls an OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	client     *openai.Client
	model      string
	requested  int
	dimensions atomic.Int64
}

var _ memory.Embedder = (*Embedder)(nil)

// New creates an embedder. It does not contact the server.
func New(cfg Config) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL

	e := &Embedder{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		requested: cfg.Dimensions,
	}
	e.dimensions.Store(int64(cfg.Dimensions))
	return e
}

// Embed converts text to an embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.requested > 0 {
		req.Dimensions = e.requested
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: create embeddings: %w", memory.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", memory.ErrEmbeddingUnavailable)
	}

	vec := resp.Data[0].Embedding
	if prev := e.dimensions.Swap(int64(len(vec))); prev != 0 && prev != int64(len(vec)) {
		log.Printf("[EMBED] Model %s changed dimensions: %d -> %d", e.model, prev, len(vec))
	}
	return vec, nil
}

// Dimensions returns the embedding size, or 0 before the first call when
// no size was configured.
func (e *Embedder) Dimensions() int {
	return int(e.dimensions.Load())
}
