package core

import (
	"context"
	"errors"
)

// ErrGenerationUnavailable is returned (wrapped) when the text generation
// backend cannot produce a result.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// Generator produces text from a role-tagged message list.
// Implementations: anthropic.Generator, openai.Generator, mock.Generator.
//
// Generators do not retry. Failures are returned wrapped with
// ErrGenerationUnavailable so callers can match them with errors.Is.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}
