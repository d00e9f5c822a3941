package config

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/becomeliminal/nim-memory/core"
	"github.com/becomeliminal/nim-memory/engine"
	"github.com/becomeliminal/nim-memory/llm/anthropic"
	"github.com/becomeliminal/nim-memory/llm/openai"
	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/cache"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
	embedopenai "github.com/becomeliminal/nim-memory/memory/embedder/openai"
	"github.com/becomeliminal/nim-memory/memory/store/chromem"
	"github.com/becomeliminal/nim-memory/memory/store/pgvector"
)

// onnxEmbedder is set by onnx.go when built with the onnx tag.
var onnxEmbedder func(c *Config) (memory.Embedder, func() error, error)

// Stack holds the shared backends of a process. Agents built from one Stack
// share its Store, Embedder and id generator.
type Stack struct {
	Config    *Config
	Store     memory.Store
	Embedder  memory.Embedder
	Generator core.Generator

	ids     *memory.IDGenerator
	closers []func() error
}

// Open builds every backend named by c.
func Open(ctx context.Context, c *Config) (*Stack, error) {
	s := &Stack{Config: c, ids: memory.NewIDGenerator()}

	store, err := OpenStore(ctx, c)
	if err != nil {
		return nil, err
	}
	s.Store = store
	s.closers = append(s.closers, store.Close)

	embedder, closeEmbedder, err := NewEmbedder(c)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Embedder = embedder
	s.closers = append(s.closers, closeEmbedder)

	if s.Generator, err = NewGenerator(c); err != nil {
		s.Close()
		return nil, err
	}

	log.Printf("[CONFIG] Stack ready: store=%s, embeddings=%s, llm=%s", c.Store, c.EmbedProvider, c.LLMProvider)
	return s, nil
}

// NewAgent builds an agent over the stack's shared backends.
func (s *Stack) NewAgent() *engine.Agent {
	c := s.Config
	store, embedder, generator := s.Store, s.Embedder, s.Generator

	recaller := memory.NewRecallEngine(store, embedder, &memory.RecallConfig{
		TopK:         c.TopK,
		MinRelevance: c.MinRelevance,
		Types:        c.recallTypes(),
	})
	reflector := memory.NewReflectionEngine(generator, &memory.ReflectionConfig{
		IncludeInsights: c.ReflectOnInsights,
		MaxMemoryLength: memory.DefaultReflectionConfig.MaxMemoryLength,
	})

	return engine.NewAgent(store, embedder, generator,
		engine.WithRecaller(recaller),
		engine.WithReflector(reflector),
		engine.WithIDGenerator(s.ids),
		engine.WithConfig(&engine.Config{
			SystemPrompt:       c.SystemPrompt,
			ContextTurns:       c.ContextTurns,
			PersistInsights:    c.PersistInsights,
			PersistReflections: c.PersistReflections,
		}),
	)
}

// Close releases backends in reverse order of creation.
func (s *Stack) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// OpenStore opens the configured memory store.
func OpenStore(ctx context.Context, c *Config) (memory.Store, error) {
	switch c.Store {
	case StoreMemory:
		return chromem.New(chromem.Config{})
	case StoreChromem:
		return chromem.New(chromem.Config{Path: c.StorePath, Compress: c.StoreCompress})
	case StorePgvector:
		return pgvector.New(ctx, pgvector.Config{DSN: c.PostgresDSN, Dimensions: c.EmbedDimensions})
	default:
		return nil, fmt.Errorf("unknown store %q", c.Store)
	}
}

// NewEmbedder builds the configured embedder, wrapped in a cache unless
// EmbedCacheSize is zero. The returned func releases it.
func NewEmbedder(c *Config) (memory.Embedder, func() error, error) {
	var (
		base     memory.Embedder
		closeFn  = func() error { return nil }
		provider = c.EmbedProvider
	)

	switch provider {
	case ProviderOpenAI:
		base = embedopenai.New(embedopenai.Config{
			BaseURL:    c.EmbedBaseURL,
			APIKey:     c.EmbedAPIKey,
			Model:      c.EmbedModel,
			Dimensions: c.EmbedDimensions,
		})
	case ProviderMock:
		dims := c.EmbedDimensions
		if dims == 0 {
			dims = mock.DefaultDimensions
		}
		base = mock.NewWithDimensions(dims)
	case ProviderONNX:
		if onnxEmbedder == nil {
			return nil, nil, fmt.Errorf("onnx embeddings require a build with -tags onnx")
		}
		var err error
		if base, closeFn, err = onnxEmbedder(c); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", provider)
	}

	if c.EmbedCacheSize == 0 {
		return base, closeFn, nil
	}
	cached, err := cache.New(base, cache.Config{MaxEntries: c.EmbedCacheSize, Namespace: provider + "/" + c.EmbedModel})
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return cached, func() error {
		_ = cached.Close()
		return closeFn()
	}, nil
}

// NewGenerator builds the configured text generator.
func NewGenerator(c *Config) (core.Generator, error) {
	switch c.LLMProvider {
	case ProviderOpenAI:
		return openai.New(openai.Config{
			BaseURL:   c.LLMBaseURL,
			APIKey:    c.LLMAPIKey,
			Model:     c.LLMModel,
			MaxTokens: c.LLMMaxTokens,
		}), nil
	case ProviderAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:    c.LLMAPIKey,
			BaseURL:   c.LLMBaseURL,
			Model:     c.LLMModel,
			MaxTokens: int64(c.LLMMaxTokens),
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", c.LLMProvider)
	}
}

func (c *Config) recallTypes() []memory.Type {
	var types []memory.Type
	for _, t := range c.RecallTypes {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, memory.Type(t))
		}
	}
	return types
}

func validType(s string) bool {
	if s == "" {
		return true
	}
	_, err := memory.ParseType(s)
	return err == nil
}
