package memory

import (
	"context"
	"fmt"
	"log"

	"github.com/becomeliminal/nim-memory/core"
)

// ReflectionConfig holds ReflectionEngine configuration.
type ReflectionConfig struct {
	// IncludeInsights lets previously extracted insights be reflected on
	// again. When false, insight memories are dropped before reflecting.
	// Default: true
	IncludeInsights bool

	// MaxMemoryLength caps the characters of each memory in the prompt.
	// Default: 500
	MaxMemoryLength int
}

// DefaultReflectionConfig returns the defaults used when no config is supplied.
var DefaultReflectionConfig = &ReflectionConfig{
	IncludeInsights: true,
	MaxMemoryLength: 500,
}

// ReflectionEngine asks a generator which recalled memories are usable for a
// query. Its output is opaque text handed to the InsightExtractor unchanged.
type ReflectionEngine struct {
	generator core.Generator
	config    ReflectionConfig
}

// NewReflectionEngine creates a ReflectionEngine. A nil config uses DefaultReflectionConfig.
func NewReflectionEngine(generator core.Generator, config *ReflectionConfig) *ReflectionEngine {
	if config == nil {
		config = DefaultReflectionConfig
	}
	return &ReflectionEngine{
		generator: generator,
		config:    *config,
	}
}

// Reflect returns the generator's judgment of memories for query, verbatim.
// No memories means no reflection: it returns "" without calling the generator.
func (e *ReflectionEngine) Reflect(ctx context.Context, query string, memories []Retrieved) (string, error) {
	if len(memories) == 0 {
		return "", nil
	}

	eligible := memories
	if !e.config.IncludeInsights {
		eligible = make([]Retrieved, 0, len(memories))
		for _, m := range memories {
			if m.Type != TypeInsight {
				eligible = append(eligible, m)
			}
		}
		if len(eligible) == 0 {
			return "", nil
		}
	}

	log.Printf("[MEMORY] Reflecting on %d memories for query: %q", len(eligible), truncateLog(query, 50))

	reflection, err := e.generator.Generate(ctx, BuildReflectionPrompt(query, eligible, e.config.MaxMemoryLength))
	if err != nil {
		return "", fmt.Errorf("generate reflection: %w", err)
	}
	return reflection, nil
}
