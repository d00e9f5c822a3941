// Package config loads process configuration from the environment and wires
// stores, embedders and generators into agents.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every variable read by Load.
const EnvPrefix = "NIM_MEMORY_"

// Store backends.
const (
	StoreChromem  = "chromem"
	StoreMemory   = "memory"
	StorePgvector = "pgvector"
)

// Embedding and generation providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderONNX      = "onnx"
	ProviderMock      = "mock"
)

// Config is the full process configuration.
type Config struct {
	// Store
	Store         string `env:"STORE" envDefault:"chromem"`
	StorePath     string `env:"STORE_PATH" envDefault:"./nim-memory-db"`
	StoreCompress bool   `env:"STORE_COMPRESS"`
	PostgresDSN   string `env:"PG_DSN"`

	// Embeddings
	EmbedProvider     string `env:"EMBED_PROVIDER" envDefault:"openai"`
	EmbedBaseURL      string `env:"EMBED_BASE_URL" envDefault:"http://localhost:11434/v1"`
	EmbedAPIKey       string `env:"EMBED_API_KEY"`
	EmbedModel        string `env:"EMBED_MODEL" envDefault:"nomic-embed-text"`
	EmbedDimensions   int    `env:"EMBED_DIMENSIONS"`
	EmbedCacheSize    int64  `env:"EMBED_CACHE_SIZE" envDefault:"10000"`
	ONNXModelPath     string `env:"ONNX_MODEL_PATH"`
	ONNXTokenizerPath string `env:"ONNX_TOKENIZER_PATH"`
	ONNXLibraryPath   string `env:"ONNX_LIBRARY_PATH"`

	// Generation
	LLMProvider  string `env:"LLM_PROVIDER" envDefault:"openai"`
	LLMBaseURL   string `env:"LLM_BASE_URL"`
	LLMAPIKey    string `env:"LLM_API_KEY"`
	LLMModel     string `env:"LLM_MODEL"`
	LLMMaxTokens int    `env:"LLM_MAX_TOKENS" envDefault:"4096"`

	// Pipeline
	TopK               int      `env:"RECALL_TOP_K" envDefault:"5"`
	MinRelevance       float64  `env:"RECALL_MIN_RELEVANCE" envDefault:"0.5"`
	RecallTypes        []string `env:"RECALL_TYPES" envSeparator:","`
	ReflectOnInsights  bool     `env:"REFLECT_ON_INSIGHTS" envDefault:"true"`
	ContextTurns       int      `env:"CONTEXT_TURNS" envDefault:"10"`
	PersistInsights    bool     `env:"PERSIST_INSIGHTS" envDefault:"true"`
	PersistReflections bool     `env:"PERSIST_REFLECTIONS"`
	SystemPrompt       string   `env:"SYSTEM_PROMPT"`

	// Server
	Addr string `env:"ADDR" envDefault:":8080"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{Prefix: EnvPrefix})
}

// LoadFrom reads the configuration from vars instead of the process
// environment. Keys include EnvPrefix.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and out-of-range limits.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreChromem, StoreMemory:
	case StorePgvector:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%sPG_DSN is required for the pgvector store", EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown store %q (want %s, %s or %s)", c.Store, StoreChromem, StoreMemory, StorePgvector)
	}

	switch c.EmbedProvider {
	case ProviderOpenAI, ProviderMock:
	case ProviderONNX:
		if c.ONNXModelPath == "" || c.ONNXTokenizerPath == "" {
			return fmt.Errorf("onnx embeddings need %sONNX_MODEL_PATH and %sONNX_TOKENIZER_PATH", EnvPrefix, EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown embedding provider %q", c.EmbedProvider)
	}

	switch c.LLMProvider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLMProvider)
	}

	if c.TopK <= 0 {
		return fmt.Errorf("recall top-k must be positive, got %d", c.TopK)
	}
	if c.MinRelevance < 0 || c.MinRelevance >= 1 {
		return fmt.Errorf("recall min relevance must be in [0, 1), got %v", c.MinRelevance)
	}
	if c.ContextTurns < 0 {
		return fmt.Errorf("context turns must not be negative, got %d", c.ContextTurns)
	}
	if c.EmbedCacheSize < 0 {
		return fmt.Errorf("embedding cache size must not be negative, got %d", c.EmbedCacheSize)
	}
	for _, t := range c.RecallTypes {
		if !validType(strings.TrimSpace(t)) {
			return fmt.Errorf("unknown recall type %q", t)
		}
	}
	return nil
}
