package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/memory/embed"
	"github.com/ent0n29/solace/internal/observability"
)

type write struct {
	kind    memory.Kind
	userID  string
	content string
	meta    map[string]string
}

type fakeStore struct {
	mu       sync.Mutex
	writes   []write
	results  map[memory.Kind][]string
	writeErr error
	// failAfter fails every write after this many succeeded; <0 disables.
	failAfter int
}

func newFakeStore() *fakeStore {
	return &fakeStore{results: map[memory.Kind][]string{}, failAfter: -1}
}

func (f *fakeStore) Write(_ context.Context, kind memory.Kind, userID, content string, meta map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil || (f.failAfter >= 0 && len(f.writes) >= f.failAfter) {
		return "", errors.New("store unavailable")
	}
	f.writes = append(f.writes, write{kind: kind, userID: userID, content: content, meta: meta})
	return "id", nil
}

func (f *fakeStore) Search(_ context.Context, kind memory.Kind, _, _ string, limit int) []string {
	out := f.results[kind]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *fakeStore) ofKind(kind memory.Kind) []write {
	var out []write
	for _, w := range f.writes {
		if w.kind == kind {
			out = append(out, w)
		}
	}
	return out
}

// scriptedModel answers reply prompts with reply and extraction prompts with facts.
type scriptedModel struct {
	reply      func(system string) (string, error)
	facts      string
	factsErr   error
	mu         sync.Mutex
	systemSeen []string
}

func (m *scriptedModel) Invoke(_ context.Context, msgs []llm.Message) (string, error) {
	if len(msgs) > 0 && msgs[0].Role == llm.RoleSystem {
		m.mu.Lock()
		m.systemSeen = append(m.systemSeen, msgs[0].Content)
		m.mu.Unlock()
		return m.reply(msgs[0].Content)
	}
	return m.facts, m.factsErr
}

func userTurn(text string) []Turn {
	return []Turn{{Role: llm.RoleUser, Content: text}}
}

func TestRunAlwaysReturnsReplyWhenModelFails(t *testing.T) {
	store := newFakeStore()
	model := &scriptedModel{
		reply:    func(string) (string, error) { return "", errors.New("upstream down") },
		factsErr: errors.New("upstream down"),
	}
	metrics := observability.NewMetricsWith("test", prometheus.NewRegistry())
	o := New(store, model, WithMetrics(metrics))

	res, err := o.Run(context.Background(), userTurn("hello?"), "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, res.Reply)
	require.Len(t, res.Turns, 2)
	assert.Equal(t, llm.RoleAssistant, res.Turns[1].Role)
	assert.Equal(t, FallbackReply, res.Turns[1].Content)

	// The fallback exchange is still remembered.
	eps := store.ofKind(memory.Episodic)
	require.Len(t, eps, 1)
	assert.Equal(t, "User: hello?\nAssistant: "+FallbackReply, eps[0].content)
	assert.Empty(t, store.ofKind(memory.Semantic))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FallbackReplies))
}

func TestEmptyModelReplyUsesFallback(t *testing.T) {
	model := &scriptedModel{reply: func(string) (string, error) { return "  \n", nil }, facts: "NONE"}
	res, err := New(newFakeStore(), model).Run(context.Background(), userTurn("hi"), "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, res.Reply)
}

func TestRetrieverPlaceholderForEmptyStore(t *testing.T) {
	r := &Retriever{Store: newFakeStore(), Limit: 3}
	u, err := r.Retrieve(context.Background(), State{Turns: userTurn("anything"), UserID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, u.MemoryContext)
	assert.Equal(t, NoContextPlaceholder, *u.MemoryContext)
}

func TestRetrieverWithoutUserTurnGivesEmptyContext(t *testing.T) {
	r := &Retriever{Store: newFakeStore()}
	u, err := r.Retrieve(context.Background(), State{Turns: []Turn{{Role: llm.RoleAssistant, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "", *u.MemoryContext)
}

func TestFormatContext(t *testing.T) {
	got := FormatContext([]string{"likes tea", "works nights"}, []string{"User: hi\nAssistant: hello"})
	want := "Important facts I know about the user:\n- likes tea\n- works nights\n\n" +
		"Relevant snippets from our past talks:\n- User: hi\nAssistant: hello"
	assert.Equal(t, want, got)

	assert.Equal(t, "Relevant snippets from our past talks:\n- x", FormatContext(nil, []string{"x"}))
	assert.Equal(t, NoContextPlaceholder, FormatContext(nil, nil))
}

func TestParseFacts(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"none", "NONE", nil},
		{"none lowercase padded", "  none\n", nil},
		{"dash bullets", "- likes tea\n- works night shifts", []string{"likes tea", "works night shifts"}},
		{"mixed markers and blanks", "* a\n\n  • b  \n-\n c", []string{"a", "b", "c"}},
		{"empty", "   ", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseFacts(tc.in))
		})
	}
}

func TestFactExtractorWritesEachFact(t *testing.T) {
	store := newFakeStore()
	f := &FactExtractor{Model: &scriptedModel{facts: "- likes tea\n- works night shifts"}, Store: store}
	s := State{UserID: "u1", ConversationID: "c9", Turns: []Turn{
		{Role: llm.RoleUser, Content: "I like tea and work nights"},
		{Role: llm.RoleAssistant, Content: "Noted."},
	}}

	_, err := f.Extract(context.Background(), s)
	require.NoError(t, err)
	facts := store.ofKind(memory.Semantic)
	require.Len(t, facts, 2)
	assert.Equal(t, "likes tea", facts[0].content)
	assert.Equal(t, "works night shifts", facts[1].content)
	assert.Equal(t, "c9", facts[0].meta["conversation_id"])
}

func TestFactExtractorNoneWritesNothing(t *testing.T) {
	store := newFakeStore()
	f := &FactExtractor{Model: &scriptedModel{facts: "None"}, Store: store}
	s := State{UserID: "u1", Turns: []Turn{{Role: llm.RoleUser, Content: "ok"}, {Role: llm.RoleAssistant, Content: "ok"}}}
	_, err := f.Extract(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, store.writes)
}

func TestFactExtractorStopsAtFirstWriteFailure(t *testing.T) {
	store := newFakeStore()
	store.failAfter = 1
	f := &FactExtractor{Model: &scriptedModel{facts: "- a\n- b\n- c"}, Store: store}
	s := State{UserID: "u1", Turns: []Turn{{Role: llm.RoleUser, Content: "x"}, {Role: llm.RoleAssistant, Content: "y"}}}
	_, err := f.Extract(context.Background(), s)
	require.NoError(t, err)
	assert.Len(t, store.writes, 1)
}

func TestEpisodicWriteFailureDoesNotAffectReply(t *testing.T) {
	store := newFakeStore()
	store.writeErr = errors.New("disk full")
	model := &scriptedModel{reply: func(string) (string, error) { return "Let's breathe together.", nil }, facts: "- stressed"}

	res, err := New(store, model).Run(context.Background(), userTurn("I'm stressed"), "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Let's breathe together.", res.Reply)
}

func TestPersisterRequiresExchange(t *testing.T) {
	p := &EpisodicPersister{Store: newFakeStore()}
	_, err := p.Persist(context.Background(), State{Turns: userTurn("only me")})
	assert.ErrorIs(t, err, ErrMalformedState)

	_, err = p.Persist(context.Background(), State{Turns: []Turn{
		{Role: llm.RoleAssistant, Content: "a"},
		{Role: llm.RoleAssistant, Content: "b"},
	}})
	assert.ErrorIs(t, err, ErrMalformedState)
}

func TestMalformedStageStateAbortsRun(t *testing.T) {
	store := newFakeStore()
	// Skipping respond leaves the persisters without an assistant turn.
	o := NewWithStages(zerolog.Nop(), nil,
		Stage{Name: "retrieve", Run: (&Retriever{Store: store}).Retrieve},
		Stage{Name: "persist_episodic", Run: (&EpisodicPersister{Store: store}).Persist},
	)
	_, err := o.Run(context.Background(), userTurn("hi"), "u1", "c1")
	assert.ErrorIs(t, err, ErrMalformedState)
}

func TestRunRejectsInvalidInput(t *testing.T) {
	o := New(newFakeStore(), llm.NewMockModel())
	cases := []struct {
		name  string
		turns []Turn
		user  string
	}{
		{"no turns", nil, "u1"},
		{"assistant last", []Turn{{Role: llm.RoleUser, Content: "a"}, {Role: llm.RoleAssistant, Content: "b"}}, "u1"},
		{"system role", []Turn{{Role: llm.RoleSystem, Content: "x"}, {Role: llm.RoleUser, Content: "a"}}, "u1"},
		{"missing user", userTurn("hi"), " "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.Run(context.Background(), tc.turns, tc.user, "c1")
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRunDoesNotMutateInput(t *testing.T) {
	turns := make([]Turn, 1, 4)
	turns[0] = Turn{Role: llm.RoleUser, Content: "hi", Position: 7}
	res, err := New(newFakeStore(), llm.NewMockModel()).Run(context.Background(), turns, "u1", "c1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)
	require.Len(t, res.Turns, 2)
	assert.Equal(t, 8, res.Turns[1].Position)
	assert.Equal(t, Turn{}, turns[:2][1])
}

func TestStagesRunInOrder(t *testing.T) {
	o := New(newFakeStore(), llm.NewMockModel())
	assert.Equal(t, []string{"retrieve", "respond", "persist_episodic", "persist_semantic"}, o.Stages())
}

func TestApplySetsMemoryContextOnce(t *testing.T) {
	s, err := State{}.Apply(Update{MemoryContext: ptr("ctx")})
	require.NoError(t, err)
	assert.Equal(t, "ctx", s.MemoryContext)
	_, err = s.Apply(Update{MemoryContext: ptr("again")})
	assert.ErrorIs(t, err, ErrMalformedState)
}

func TestExamScenarioEndToEnd(t *testing.T) {
	store := memory.NewStore(memory.NewInMemoryBackend(), embed.NewHashing(256))
	model := &scriptedModel{
		reply: func(system string) (string, error) {
			if strings.Contains(system, NoContextPlaceholder) {
				return "That sounds really stressful. What about the exam worries you most?", nil
			}
			return "Last time you mentioned your exam. How are you feeling now?", nil
		},
		facts: "- upcoming exam\n- anxiety about exams",
	}
	o := New(store, model)
	ctx := context.Background()

	first, err := o.Run(ctx, userTurn("I feel anxious about my exam"), "42", "c1")
	require.NoError(t, err)
	assert.Equal(t, "That sounds really stressful. What about the exam worries you most?", first.Reply)
	assert.Contains(t, model.systemSeen[0], NoContextPlaceholder)

	episodes := store.Search(ctx, memory.Episodic, "42", "exam", 3)
	require.Len(t, episodes, 1)
	assert.Equal(t, "User: I feel anxious about my exam\nAssistant: "+first.Reply, episodes[0])
	assert.ElementsMatch(t, []string{"upcoming exam", "anxiety about exams"}, store.Search(ctx, memory.Semantic, "42", "exam", 3))

	// The second turn yields no new facts.
	model.facts = "NONE"
	second, err := o.Run(ctx, userTurn("exam"), "42", "c2")
	require.NoError(t, err)
	assert.Equal(t, "Last time you mentioned your exam. How are you feeling now?", second.Reply)

	system := model.systemSeen[1]
	assert.Contains(t, system, "Important facts I know about the user:\n- ")
	assert.Contains(t, system, "- upcoming exam")
	assert.Contains(t, system, "- anxiety about exams")
	assert.Contains(t, system, "Relevant snippets from our past talks:\n- User: I feel anxious about my exam")

	// Another user sees none of it.
	_, err = o.Run(ctx, userTurn("exam"), "43", "c3")
	require.NoError(t, err)
	assert.Contains(t, model.systemSeen[2], NoContextPlaceholder)
}

func TestRedactingStoreKeepsDatesInMemories(t *testing.T) {
	store := memory.NewStore(memory.NewInMemoryBackend(), embed.NewHashing(256), memory.WithRedaction(true))
	model := &scriptedModel{
		reply: func(string) (string, error) { return "Good luck, you have prepared well.", nil },
		facts: "- exam on 2024-06-15\n- worked night shifts from 2019-2023",
	}
	ctx := context.Background()

	_, err := New(store, model).Run(ctx, userTurn("my exam is on 2024-06-15"), "42", "c1")
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"User: my exam is on 2024-06-15\nAssistant: Good luck, you have prepared well."},
		store.Search(ctx, memory.Episodic, "42", "exam", 3))
	assert.ElementsMatch(t,
		[]string{"exam on 2024-06-15", "worked night shifts from 2019-2023"},
		store.Search(ctx, memory.Semantic, "42", "exam", 3))
}

func TestMockModelSeparatesChatFromExtraction(t *testing.T) {
	store := newFakeStore()
	res, err := New(store, llm.NewMockModel()).Run(context.Background(), userTurn("User said: I am fine"), "u1", "c1")
	require.NoError(t, err)

	assert.Equal(t, "I heard you: User said: I am fine", res.Reply)
	facts := store.ofKind(memory.Semantic)
	require.Len(t, facts, 1)
	assert.Equal(t, "User said: I am fine", facts[0].content)
}
