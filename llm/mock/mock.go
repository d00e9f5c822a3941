// Package mock provides a scripted core.Generator for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/becomeliminal/nim-memory/core"
)

// Func computes a reply from the prompt.
type Func func(ctx context.Context, messages []core.Message) (string, error)

// Generator replays scripted replies and records every prompt it receives.
// Replies are consumed in order; once exhausted, Fallback is used, and
// without a Fallback the call fails with core.ErrGenerationUnavailable.
type Generator struct {
	mu       sync.Mutex
	replies  []reply
	calls    [][]core.Message
	Fallback Func
}

type reply struct {
	text string
	err  error
}

var _ core.Generator = (*Generator)(nil)

// New creates a generator scripted with replies.
func New(replies ...string) *Generator {
	g := &Generator{}
	for _, r := range replies {
		g.replies = append(g.replies, reply{text: r})
	}
	return g
}

// NewFunc creates a generator that answers every call with fn.
func NewFunc(fn Func) *Generator {
	return &Generator{Fallback: fn}
}

// Reply queues a successful reply.
func (g *Generator) Reply(text string) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, reply{text: text})
	return g
}

// Fail queues a failing reply. The error is wrapped with
// core.ErrGenerationUnavailable like a real backend would.
func (g *Generator) Fail(err error) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, reply{err: fmt.Errorf("%w: %w", core.ErrGenerationUnavailable, err)})
	return g
}

// Generate returns the next scripted reply.
func (g *Generator) Generate(ctx context.Context, messages []core.Message) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, append([]core.Message(nil), messages...))
	if len(g.replies) > 0 {
		r := g.replies[0]
		g.replies = g.replies[1:]
		g.mu.Unlock()
		return r.text, r.err
	}
	fallback := g.Fallback
	g.mu.Unlock()

	if fallback != nil {
		return fallback(ctx, messages)
	}
	return "", fmt.Errorf("%w: no scripted reply left", core.ErrGenerationUnavailable)
}

// Calls returns a copy of every prompt received, in order.
func (g *Generator) Calls() [][]core.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([][]core.Message, len(g.calls))
	for i, c := range g.calls {
		out[i] = append([]core.Message(nil), c...)
	}
	return out
}

// CallCount returns the number of Generate calls.
func (g *Generator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// LastUserContent returns the content of the final user message of call i.
func (g *Generator) LastUserContent(i int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i < 0 || i >= len(g.calls) {
		return ""
	}
	msgs := g.calls[i]
	for j := len(msgs) - 1; j >= 0; j-- {
		if msgs[j].Role == core.RoleUser {
			return msgs[j].Content
		}
	}
	return ""
}
