package memory

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/becomeliminal/nim-memory/core"
)

// InsightExtractor condenses a reflection into a compact, reusable insight.
// The caller persists non-empty insights as TypeInsight units so later,
// unrelated conversations on the same topic can recall them.
type InsightExtractor struct {
	generator core.Generator
}

// NewInsightExtractor creates an InsightExtractor.
func NewInsightExtractor(generator core.Generator) *InsightExtractor {
	return &InsightExtractor{generator: generator}
}

// Extract returns the insight for reflection and query, trimmed of surrounding
// whitespace. An empty reflection yields "" without calling the generator.
func (x *InsightExtractor) Extract(ctx context.Context, reflection string, query string) (string, error) {
	if strings.TrimSpace(reflection) == "" {
		return "", nil
	}

	insight, err := x.generator.Generate(ctx, BuildInsightPrompt(reflection, query))
	if err != nil {
		return "", fmt.Errorf("generate insight: %w", err)
	}
	insight = strings.TrimSpace(insight)

	log.Printf("[MEMORY] Extracted insight (%d chars) for query: %q", len(insight), truncateLog(query, 50))
	return insight, nil
}
