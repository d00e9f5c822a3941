package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/core"
	"github.com/becomeliminal/nim-memory/engine"
	llmmock "github.com/becomeliminal/nim-memory/llm/mock"
	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
	"github.com/becomeliminal/nim-memory/memory/store/chromem"
)

const (
	dnsTurn  = "DNS button modem broken"
	dnsQuery = "The DNS buttons on my modem aren't working as they usually do. Why?"
)

// countingStore counts every call made to the wrapped store.
type countingStore struct {
	memory.Store
	calls atomic.Int64
}

func (s *countingStore) Upsert(ctx context.Context, u *memory.Unit) error {
	s.calls.Add(1)
	return s.Store.Upsert(ctx, u)
}

func (s *countingStore) QueryByVector(ctx context.Context, v []float32, k int, types ...memory.Type) ([]memory.Match, error) {
	s.calls.Add(1)
	return s.Store.QueryByVector(ctx, v, k, types...)
}

func (s *countingStore) Count(ctx context.Context) (int, error) {
	s.calls.Add(1)
	return s.Store.Count(ctx)
}

func (s *countingStore) Get(ctx context.Context, id string) (*memory.Unit, error) {
	s.calls.Add(1)
	return s.Store.Get(ctx, id)
}

func (s *countingStore) Delete(ctx context.Context, ids ...string) error {
	s.calls.Add(1)
	return s.Store.Delete(ctx, ids...)
}

// flakyStore fails the nth Upsert (1-based).
type flakyStore struct {
	memory.Store
	failOn  int
	upserts int
}

func (s *flakyStore) Upsert(ctx context.Context, u *memory.Unit) error {
	s.upserts++
	if s.upserts == s.failOn {
		return fmt.Errorf("%w: disk full", memory.ErrStoreUnavailable)
	}
	return s.Store.Upsert(ctx, u)
}

func newStore(t *testing.T) *chromem.Store {
	t.Helper()
	s, err := chromem.New(chromem.Config{})
	require.NoError(t, err)
	return s
}

func keywordEmbedder() *mock.KeywordEmbedder {
	return mock.NewKeyword("dns", "button", "modem", "broke", "work", "weather", "paris")
}

func seed(t *testing.T, store memory.Store, embedder memory.Embedder, typ memory.Type, content string) {
	t.Helper()
	vec, err := embedder.Embed(context.Background(), content)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), memory.NewUnit("seed-"+content, typ, content, "earlier", vec)))
}

func count(t *testing.T, store memory.Store) int {
	t.Helper()
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func countType(t *testing.T, store memory.Store, typ memory.Type) int {
	t.Helper()
	matches, err := store.QueryByVector(context.Background(), []float32{1, 1, 1, 1, 1, 1, 1, 1}, 100, typ)
	require.NoError(t, err)
	return len(matches)
}

func started(t *testing.T, a *engine.Agent) *engine.Session {
	t.Helper()
	s, err := a.StartConversation(context.Background(), "test")
	require.NoError(t, err)
	return s
}

// quietGenerator never reflects, so no insights are produced.
func quietGenerator() *llmmock.Generator {
	return llmmock.NewFunc(func(ctx context.Context, messages []core.Message) (string, error) {
		if len(messages) > 0 && messages[0].Content == memory.ReflectionSystemPrompt {
			return "", nil
		}
		return "ok: " + messages[len(messages)-1].Content, nil
	})
}

func TestChat_DNSScenario(t *testing.T) {
	store := newStore(t)
	embedder := keywordEmbedder()
	seed(t, store, embedder, memory.TypeUserTurn, dnsTurn)

	reflection := "Memory 1 describes the same broken DNS button on this modem."
	insight := "The user's modem has a recurring DNS button fault."
	gen := llmmock.New(reflection, insight, "It likely needs a firmware update.")

	a := engine.NewAgent(store, embedder, gen)
	started(t, a)

	resp, err := a.Chat(context.Background(), dnsQuery)
	require.NoError(t, err)
	assert.Equal(t, "It likely needs a firmware update.", resp.Content)
	assert.Equal(t, []string{insight}, resp.Insights)
	assert.Equal(t, reflection, resp.Reflection)

	require.Len(t, resp.Recalled, 1)
	assert.Equal(t, dnsTurn, resp.Recalled[0].Content)
	assert.InDelta(t, 0.875, resp.Recalled[0].Relevance, 1e-5)

	// reflection, insight, response
	require.Equal(t, 3, gen.CallCount())
	assert.Contains(t, gen.LastUserContent(0), dnsTurn)
	assert.Contains(t, gen.LastUserContent(1), reflection)

	calls := gen.Calls()
	assert.Contains(t, calls[2][0].Content, insight)
	assert.Equal(t, dnsQuery, gen.LastUserContent(2))

	// seed + user_turn + agent_turn + insight
	assert.Equal(t, 4, count(t, store))
	assert.Equal(t, 1, countType(t, store, memory.TypeInsight))
	assert.Equal(t, 0, countType(t, store, memory.TypeReflection))
}

func TestChat_EmptyStoreSkipsReflection(t *testing.T) {
	store := newStore(t)
	gen := llmmock.New("Hello! How can I help?")
	a := engine.NewAgent(store, keywordEmbedder(), gen)
	started(t, a)

	resp, err := a.Chat(context.Background(), "hi there")
	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help?", resp.Content)
	assert.Empty(t, resp.Insights)
	assert.Empty(t, resp.Recalled)
	assert.Equal(t, "", resp.Reflection)

	// Only the response was generated.
	assert.Equal(t, 1, gen.CallCount())
	assert.Equal(t, 2, count(t, store))
}

func TestChat_EmptyReflectionSkipsExtraction(t *testing.T) {
	store := newStore(t)
	embedder := keywordEmbedder()
	seed(t, store, embedder, memory.TypeUserTurn, dnsTurn)

	gen := llmmock.New("   ", "reply")
	a := engine.NewAgent(store, embedder, gen)
	started(t, a)

	resp, err := a.Chat(context.Background(), "dns modem")
	require.NoError(t, err)
	assert.Equal(t, "reply", resp.Content)
	assert.Empty(t, resp.Insights)
	assert.Equal(t, 2, gen.CallCount())
	assert.Equal(t, 0, countType(t, store, memory.TypeInsight))
}

func TestChat_PersistReflections(t *testing.T) {
	store := newStore(t)
	embedder := keywordEmbedder()
	seed(t, store, embedder, memory.TypeUserTurn, dnsTurn)

	gen := llmmock.New("relevant", "insight", "reply")
	a := engine.NewAgent(store, embedder, gen, engine.WithConfig(&engine.Config{
		PersistInsights:    false,
		PersistReflections: true,
	}))
	started(t, a)

	resp, err := a.Chat(context.Background(), "dns modem")
	require.NoError(t, err)
	assert.Equal(t, []string{"insight"}, resp.Insights)
	assert.Equal(t, 1, countType(t, store, memory.TypeReflection))
	assert.Equal(t, 0, countType(t, store, memory.TypeInsight))
}

func TestChat_TurnOrderAndHistory(t *testing.T) {
	store := newStore(t)
	gen := quietGenerator()
	a := engine.NewAgent(store, mock.NewWithDimensions(16), gen)
	session := started(t, a)

	for _, msg := range []string{"first", "second", "third"} {
		_, err := a.Chat(context.Background(), msg)
		require.NoError(t, err)
	}

	want := []core.Message{
		core.UserMessage("first"), core.AssistantMessage("ok: first"),
		core.UserMessage("second"), core.AssistantMessage("ok: second"),
		core.UserMessage("third"), core.AssistantMessage("ok: third"),
	}
	assert.Equal(t, want, session.Turns())
	assert.Equal(t, 6, count(t, store))

	// The last response request carried the earlier turns.
	calls := gen.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, core.RoleSystem, last[0].Role)
	assert.Equal(t, want[:4], last[1:5])
	assert.Equal(t, core.UserMessage("third"), last[5])
}

func TestChat_ContextTurnsLimitsHistory(t *testing.T) {
	gen := quietGenerator()
	a := engine.NewAgent(newStore(t), mock.NewWithDimensions(16), gen, engine.WithConfig(&engine.Config{ContextTurns: 2}))
	started(t, a)

	for _, msg := range []string{"one", "two", "three"} {
		_, err := a.Chat(context.Background(), msg)
		require.NoError(t, err)
	}

	calls := gen.Calls()
	last := calls[len(calls)-1]
	require.Len(t, last, 4)
	assert.Equal(t, core.UserMessage("two"), last[1])
	assert.Equal(t, core.AssistantMessage("ok: two"), last[2])
}

func TestChat_ContextTurnsSettings(t *testing.T) {
	tests := []struct {
		name    string
		turns   int
		wantLen int
	}{
		// system + three earlier turns of two messages + the new message
		{"negative selects the default", -1, 8},
		{"zero sends no history", 0, 2},
		{"one message", 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := quietGenerator()
			a := engine.NewAgent(newStore(t), mock.NewWithDimensions(16), gen, engine.WithConfig(&engine.Config{ContextTurns: tt.turns}))
			started(t, a)

			for _, msg := range []string{"one", "two", "three", "four"} {
				_, err := a.Chat(context.Background(), msg)
				require.NoError(t, err)
			}

			calls := gen.Calls()
			last := calls[len(calls)-1]
			require.Len(t, last, tt.wantLen)
			assert.Equal(t, core.UserMessage("four"), last[len(last)-1])
		})
	}
}

func TestStartConversation_Twice(t *testing.T) {
	a := engine.NewAgent(newStore(t), keywordEmbedder(), llmmock.New("reply"))
	first := started(t, a)

	_, err := a.StartConversation(context.Background(), "another")
	require.ErrorIs(t, err, engine.ErrSessionAlreadyActive)

	assert.Same(t, first, a.Session())
	assert.Equal(t, "test", a.Session().Title)
	assert.Equal(t, engine.StateActive, a.State())

	_, err = a.Chat(context.Background(), "still works")
	require.NoError(t, err)
	assert.Equal(t, 2, first.TurnCount())
}

func TestChat_AfterCloseTouchesNothing(t *testing.T) {
	store := &countingStore{Store: newStore(t)}
	a := engine.NewAgent(store, keywordEmbedder(), quietGenerator())
	started(t, a)

	_, err := a.Chat(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, engine.StateClosed, a.State())

	before := store.calls.Load()
	_, err = a.Chat(context.Background(), "are you there?")
	require.ErrorIs(t, err, engine.ErrSessionClosed)
	assert.Equal(t, before, store.calls.Load())

	// Closing never deletes memories.
	assert.Equal(t, 2, count(t, store))
}

func TestLifecycleErrors(t *testing.T) {
	a := engine.NewAgent(newStore(t), keywordEmbedder(), quietGenerator())
	ctx := context.Background()

	assert.Equal(t, engine.StateUnstarted, a.State())
	assert.Nil(t, a.Session())

	_, err := a.Chat(ctx, "hello")
	require.ErrorIs(t, err, engine.ErrNoActiveSession)
	require.ErrorIs(t, a.Close(ctx), engine.ErrNoActiveSession)

	started(t, a)
	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx))

	_, err = a.StartConversation(ctx, "again")
	require.ErrorIs(t, err, engine.ErrSessionClosed)
}

func TestChat_InvalidMessage(t *testing.T) {
	store := &countingStore{Store: newStore(t)}
	a := engine.NewAgent(store, keywordEmbedder(), quietGenerator())
	started(t, a)

	_, err := a.Chat(context.Background(), "  \n ")
	require.ErrorIs(t, err, memory.ErrInvalidQuery)
	assert.Equal(t, int64(0), store.calls.Load())
}

func TestChat_FailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name     string
		store    func(memory.Store) memory.Store
		embedder memory.Embedder
		gen      core.Generator
		wantErr  error
	}{
		{
			name:     "generation unavailable",
			store:    func(s memory.Store) memory.Store { return s },
			embedder: keywordEmbedder(),
			gen:      llmmock.New().Fail(errors.New("overloaded")),
			wantErr:  core.ErrGenerationUnavailable,
		},
		{
			name:     "empty reply",
			store:    func(s memory.Store) memory.Store { return s },
			embedder: keywordEmbedder(),
			gen:      llmmock.New("  "),
			wantErr:  core.ErrGenerationUnavailable,
		},
		{
			name:     "embedding unavailable",
			store:    func(s memory.Store) memory.Store { return s },
			embedder: mock.NewUnavailable(),
			gen:      llmmock.New("reply"),
			wantErr:  memory.ErrEmbeddingUnavailable,
		},
		{
			name:     "second write fails",
			store:    func(s memory.Store) memory.Store { return &flakyStore{Store: s, failOn: 2} },
			embedder: keywordEmbedder(),
			gen:      llmmock.New("reply"),
			wantErr:  memory.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := newStore(t)
			a := engine.NewAgent(tt.store(base), tt.embedder, tt.gen)
			session := started(t, a)

			_, err := a.Chat(context.Background(), "hello")
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, 0, count(t, base))
			assert.Equal(t, 0, session.TurnCount())
			assert.Equal(t, engine.StateActive, a.State())
		})
	}
}

func TestChat_RollbackWithInsight(t *testing.T) {
	base := newStore(t)
	embedder := keywordEmbedder()
	seed(t, base, embedder, memory.TypeUserTurn, dnsTurn)

	// user_turn and agent_turn succeed, the insight write fails.
	store := &flakyStore{Store: base, failOn: 3}
	a := engine.NewAgent(store, embedder, llmmock.New("relevant", "insight", "reply"))
	started(t, a)

	_, err := a.Chat(context.Background(), "dns modem")
	require.ErrorIs(t, err, memory.ErrStoreUnavailable)
	assert.Equal(t, 1, count(t, base))
}

func TestAgent_RecallAndReflectWithoutSession(t *testing.T) {
	store := newStore(t)
	embedder := keywordEmbedder()
	seed(t, store, embedder, memory.TypeUserTurn, dnsTurn)

	a := engine.NewAgent(store, embedder, llmmock.New("relevant memory", "modem insight"))

	recalled, err := a.Recall(context.Background(), dnsQuery)
	require.NoError(t, err)
	require.Len(t, recalled, 1)

	out, err := a.Reflect(context.Background(), dnsQuery)
	require.NoError(t, err)
	assert.Equal(t, "relevant memory", out.Reflection)
	assert.Equal(t, "modem insight", out.Insight)
	assert.Len(t, out.Recalled, 1)

	// Nothing was written and no session exists.
	assert.Equal(t, 1, count(t, store))
	assert.Equal(t, engine.StateUnstarted, a.State())
}

func TestAgents_ShareStoreConcurrently(t *testing.T) {
	store := newStore(t)
	embedder := mock.NewWithDimensions(32)
	ids := memory.NewIDGenerator()

	const agents, turns = 4, 5
	var wg sync.WaitGroup
	errs := make(chan error, agents*turns)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := engine.NewAgent(store, embedder, quietGenerator(), engine.WithIDGenerator(ids))
			if _, err := a.StartConversation(context.Background(), fmt.Sprintf("agent %d", i)); err != nil {
				errs <- err
				return
			}
			for j := 0; j < turns; j++ {
				if _, err := a.Chat(context.Background(), fmt.Sprintf("agent %d message %d", i, j)); err != nil {
					errs <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, agents*turns*2, count(t, store))
}

func TestBuildResponseMessages(t *testing.T) {
	history := []core.Message{core.UserMessage("a"), core.AssistantMessage("b")}

	msgs := engine.BuildResponseMessages("", "remember the modem", history, "c")
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[0].Content, engine.DefaultSystemPrompt)
	assert.Contains(t, msgs[0].Content, "remember the modem")
	assert.Equal(t, core.UserMessage("c"), msgs[3])

	msgs = engine.BuildResponseMessages("persona", "", nil, "c")
	require.Len(t, msgs, 2)
	assert.Equal(t, "persona", msgs[0].Content)
}
