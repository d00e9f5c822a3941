package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/becomeliminal/nim-memory/core"
	"github.com/becomeliminal/nim-memory/memory"
)

// Recaller retrieves memories relevant to a query.
type Recaller interface {
	Recall(ctx context.Context, query string) ([]memory.Retrieved, error)
}

// Reflector judges recalled memories against a query.
type Reflector interface {
	Reflect(ctx context.Context, query string, memories []memory.Retrieved) (string, error)
}

// Extractor condenses a reflection into an insight.
type Extractor interface {
	Extract(ctx context.Context, reflection string, query string) (string, error)
}

// Config holds Agent configuration.
type Config struct {
	// SystemPrompt is the response persona (default: DefaultSystemPrompt).
	SystemPrompt string

	// ContextTurns is how many recent session turns response generation sees.
	// Zero sends no history; a negative value selects the default.
	// Default: 10
	ContextTurns int

	// PersistInsights stores each non-empty insight as an insight unit.
	// Default: true
	PersistInsights bool

	// PersistReflections stores each non-empty reflection as a reflection unit.
	// Default: false
	PersistReflections bool
}

// DefaultConfig returns the defaults used when no config is supplied.
var DefaultConfig = &Config{
	SystemPrompt:       DefaultSystemPrompt,
	ContextTurns:       10,
	PersistInsights:    true,
	PersistReflections: false,
}

// Response is the result of one Chat turn.
type Response struct {
	Content    string             `json:"content"`
	Insights   []string           `json:"insights"`
	Recalled   []memory.Retrieved `json:"recalled,omitempty"`
	Reflection string             `json:"reflection,omitempty"`
}

// Agent manages a single conversation session on top of a shared memory
// Store. It moves through StateUnstarted, StateActive and StateClosed; Chat
// calls are serialized.
type Agent struct {
	store     memory.Store
	embedder  memory.Embedder
	generator core.Generator
	recaller  Recaller
	reflector Reflector
	extractor Extractor
	ids       *memory.IDGenerator
	config    Config

	mu      sync.Mutex
	state   State
	session *Session
}

// Option configures the agent.
type Option func(*Agent)

// WithRecaller overrides the default RecallEngine.
func WithRecaller(r Recaller) Option {
	return func(a *Agent) {
		a.recaller = r
	}
}

// WithReflector overrides the default ReflectionEngine.
func WithReflector(r Reflector) Option {
	return func(a *Agent) {
		a.reflector = r
	}
}

// WithExtractor overrides the default InsightExtractor.
func WithExtractor(x Extractor) Option {
	return func(a *Agent) {
		a.extractor = x
	}
}

// WithConfig sets the agent configuration. Negative ContextTurns selects the default.
func WithConfig(cfg *Config) Option {
	return func(a *Agent) {
		if cfg == nil {
			return
		}
		a.config = *cfg
		if a.config.ContextTurns < 0 {
			a.config.ContextTurns = DefaultConfig.ContextTurns
		}
	}
}

// WithIDGenerator shares an id generator between agents.
func WithIDGenerator(g *memory.IDGenerator) Option {
	return func(a *Agent) {
		a.ids = g
	}
}

// NewAgent creates an agent. The store is shared and never closed by the agent.
func NewAgent(store memory.Store, embedder memory.Embedder, generator core.Generator, opts ...Option) *Agent {
	a := &Agent{
		store:     store,
		embedder:  embedder,
		generator: generator,
		config:    *DefaultConfig,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.recaller == nil {
		a.recaller = memory.NewRecallEngine(store, embedder, nil)
	}
	if a.reflector == nil {
		a.reflector = memory.NewReflectionEngine(generator, nil)
	}
	if a.extractor == nil {
		a.extractor = memory.NewInsightExtractor(generator)
	}
	if a.ids == nil {
		a.ids = memory.NewIDGenerator()
	}
	return a
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Session returns the current session, or nil before StartConversation.
func (a *Agent) Session() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// StartConversation opens a new session with a fresh id.
func (a *Agent) StartConversation(ctx context.Context, title string) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateActive:
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyActive, a.session.ID)
	case StateClosed:
		return nil, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.session = newSession(uuid.NewString(), strings.TrimSpace(title))
	a.state = StateActive

	log.Printf("[ENGINE] Started session %s (title=%q)", a.session.ID, a.session.Title)
	return a.session, nil
}

// Close ends the session. Memories are kept. Closing twice is a no-op.
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateUnstarted:
		return ErrNoActiveSession
	case StateClosed:
		return nil
	}

	a.state = StateClosed
	log.Printf("[ENGINE] Closed session %s after %d turns", a.session.ID, a.session.TurnCount())
	return nil
}

// Chat runs one turn: recall, reflect, extract, generate, then persist the
// turn. A failed turn leaves neither the store nor the session changed.
func (a *Agent) Chat(ctx context.Context, message string) (*Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateUnstarted:
		return nil, ErrNoActiveSession
	case StateClosed:
		return nil, ErrSessionClosed
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, memory.ErrInvalidQuery
	}

	// === PHASE 1: RECALL ===
	recalled, err := a.recaller.Recall(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}

	// === PHASE 2: REFLECT ===
	var reflection string
	if len(recalled) > 0 {
		reflection, err = a.reflector.Reflect(ctx, message, recalled)
		if err != nil {
			return nil, fmt.Errorf("reflect: %w", err)
		}
	}

	// === PHASE 3: EXTRACT INSIGHT ===
	var insight string
	if strings.TrimSpace(reflection) != "" {
		insight, err = a.extractor.Extract(ctx, reflection, message)
		if err != nil {
			return nil, fmt.Errorf("extract insight: %w", err)
		}
	}

	// === PHASE 4: GENERATE RESPONSE ===
	history := a.session.recent(a.config.ContextTurns)
	reply, err := a.generator.Generate(ctx, BuildResponseMessages(a.config.SystemPrompt, insight, history, message))
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return nil, fmt.Errorf("generate response: %w: empty reply", core.ErrGenerationUnavailable)
	}

	// === PHASE 5: PERSIST TURN ===
	if err := a.persist(ctx, message, reply, insight, reflection); err != nil {
		return nil, err
	}
	a.session.append(core.UserMessage(message), core.AssistantMessage(reply))

	log.Printf("[ENGINE] Session %s turn %d: recalled=%d, insight=%t",
		a.session.ID, a.session.TurnCount()/2, len(recalled), insight != "")

	resp := &Response{
		Content:    reply,
		Insights:   []string{},
		Recalled:   recalled,
		Reflection: reflection,
	}
	if insight != "" {
		resp.Insights = append(resp.Insights, insight)
	}
	return resp, nil
}

type pendingUnit struct {
	typ     memory.Type
	content string
}

// persist embeds every unit of the turn before writing any, then writes them
// in order. Units written before a failure are deleted again.
func (a *Agent) persist(ctx context.Context, message, reply, insight, reflection string) error {
	pending := []pendingUnit{
		{memory.TypeUserTurn, message},
		{memory.TypeAgentTurn, reply},
	}
	if a.config.PersistInsights && insight != "" {
		pending = append(pending, pendingUnit{memory.TypeInsight, insight})
	}
	if a.config.PersistReflections && strings.TrimSpace(reflection) != "" {
		pending = append(pending, pendingUnit{memory.TypeReflection, reflection})
	}

	units := make([]*memory.Unit, 0, len(pending))
	for _, p := range pending {
		vec, err := a.embedder.Embed(ctx, p.content)
		if err != nil {
			return fmt.Errorf("embed %s: %w", p.typ, err)
		}
		units = append(units, memory.NewUnit(a.ids.Next(p.content), p.typ, p.content, a.session.ID, vec))
	}

	written := make([]string, 0, len(units))
	for _, u := range units {
		if err := a.store.Upsert(ctx, u); err != nil {
			a.rollback(ctx, written)
			return fmt.Errorf("store %s: %w", u.Type, err)
		}
		written = append(written, u.ID)
	}
	return nil
}

func (a *Agent) rollback(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	// The turn's context may already be cancelled.
	if err := a.store.Delete(context.WithoutCancel(ctx), ids...); err != nil {
		log.Printf("[ENGINE] Rollback of %d units failed: %v", len(ids), err)
		return
	}
	log.Printf("[ENGINE] Rolled back %d units", len(ids))
}

// Recall searches memory directly. It needs no session and writes nothing.
func (a *Agent) Recall(ctx context.Context, query string) ([]memory.Retrieved, error) {
	return a.recaller.Recall(ctx, query)
}

// Reflection is the outcome of running recall, reflect and extract for a
// query without generating a reply.
type Reflection struct {
	Recalled   []memory.Retrieved `json:"recalled"`
	Reflection string             `json:"reflection"`
	Insight    string             `json:"insight"`
}

// Reflect runs the memory pipeline for query without a session and without
// persisting anything.
func (a *Agent) Reflect(ctx context.Context, query string) (*Reflection, error) {
	recalled, err := a.recaller.Recall(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}

	out := &Reflection{Recalled: recalled}
	if len(recalled) == 0 {
		return out, nil
	}
	if out.Reflection, err = a.reflector.Reflect(ctx, query, recalled); err != nil {
		return nil, fmt.Errorf("reflect: %w", err)
	}
	if strings.TrimSpace(out.Reflection) == "" {
		return out, nil
	}
	if out.Insight, err = a.extractor.Extract(ctx, out.Reflection, query); err != nil {
		return nil, fmt.Errorf("extract insight: %w", err)
	}
	return out, nil
}
