package turn

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-recall/backend/internal/model/chat"
	"github.com/zhouzirui/z-recall/backend/internal/observability"
	memorymodel "github.com/zhouzirui/z-recall/backend/internal/model/memory"
	"github.com/zhouzirui/z-recall/backend/internal/service/ai"
	"github.com/zhouzirui/z-recall/backend/internal/service/memory"
	"github.com/zhouzirui/z-recall/backend/internal/service/retrieval"
	"github.com/zhouzirui/z-recall/backend/internal/service/thread"
)

type fixture struct {
	gateway   *fakeGateway
	searcher  *fakeSearcher
	retriever *fakeRetriever
	threads   *thread.InMemoryStore
	profiles  *memory.ProfileStore
	orch      *Orchestrator
}

func newFixture(t *testing.T, withRetriever bool) *fixture {
	t.Helper()
	f := &fixture{
		gateway:  &fakeGateway{reply: "ok", expansion: "alt one, alt two, alt three", extract: extractFromThread},
		searcher: &fakeSearcher{},
		threads:  thread.NewInMemoryStore(),
		profiles: memory.NewProfileStore(memory.NewInMemoryKV()),
	}

	deps := Dependencies{
		Gateway:  f.gateway,
		Threads:  f.threads,
		Profiles: f.profiles,
		Searcher: f.searcher,
		TopK:     4,
	}
	if withRetriever {
		f.retriever = &fakeRetriever{fragments: []retrieval.Fragment{{Content: "frag one"}, {Content: "frag two"}}}
		deps.Retriever = f.retriever
	}

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func TestNewOrchestratorRequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(Dependencies{})
	assert.Error(t, err)

	_, err = NewOrchestrator(Dependencies{Gateway: &fakeGateway{}, Threads: thread.NewInMemoryStore()})
	assert.Error(t, err)
}

func TestRunTurnVisitsStatesInOrder(t *testing.T) {
	f := newFixture(t, false)

	var observed []State
	res, err := f.orch.RunTurn(context.Background(), "t1", "user1", "hello", WithObserver(func(_ context.Context, s State) {
		observed = append(observed, s)
	}))
	require.NoError(t, err)

	want := []State{StateIntake, StateContextAssembly, StateGeneration, StateMemoryUpdate, StateDone}
	assert.Equal(t, want, observed)
	assert.Equal(t, want, res.States)
	assert.Equal(t, "ok", res.Response)
}

func TestRunTurnAliceScenario(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.orch.RunTurn(ctx, "t1", "user1", "Hi, my name is Alice. I live in New York and I like reading and hiking")
	require.NoError(t, err)

	profile, err := f.profiles.Get(ctx, "user1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Alice", profile.Name)
	assert.Equal(t, "New York", profile.Location)
	assert.Subset(t, profile.Interests, []string{"reading", "hiking"})

	res, err := f.orch.RunTurn(ctx, "t2", "user1", "Do you remember my name and where I live?")
	require.NoError(t, err)
	assert.Contains(t, res.Context.Memory, "Name: Alice")
	assert.Contains(t, res.Context.Memory, "Location: New York")

	gen := f.gateway.lastGeneration()
	require.NotEmpty(t, gen)
	assert.Equal(t, schema.System, gen[0].Role)
	assert.Contains(t, gen[0].Content, "Name: Alice")
	assert.Contains(t, gen[0].Content, "Location: New York")
}

func TestRunTurnWithoutProfileUsesPlaceholders(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.orch.RunTurn(context.Background(), "t1", "nobody", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Name: Unknown\nLocation: Unknown\nInterests: ", res.Context.Memory)
}

func TestRunTurnSearchFailureIsolated(t *testing.T) {
	f := newFixture(t, false)
	f.searcher.fail = map[string]error{"alt two": errors.New("rate limited")}

	res, err := f.orch.RunTurn(context.Background(), "t1", "user1", "weather in paris")
	require.NoError(t, err)

	assert.Equal(t, []string{"weather in paris", "alt one", "alt two", "alt three"}, f.searcher.queries)
	lines := strings.Split(res.Context.Block, "\n")
	assert.Equal(t, []string{
		"Query: weather in paris",
		"Result: results for weather in paris",
		"Query: alt one",
		"Result: results for alt one",
		"Query: alt two",
		"Error: rate limited",
		"Query: alt three",
		"Result: results for alt three",
	}, lines)

	gen := f.gateway.lastGeneration()
	require.GreaterOrEqual(t, len(gen), 2)
	assert.Equal(t, res.Context.Block, gen[1].Content)
}

func TestRunTurnExpansionCappedAtThree(t *testing.T) {
	f := newFixture(t, false)
	f.gateway.expansion = "a, b, , c, d, e"

	_, err := f.orch.RunTurn(context.Background(), "t1", "user1", "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"q", "a", "b", "c"}, f.searcher.queries)
}

func TestRunTurnExpansionFailureDegrades(t *testing.T) {
	f := newFixture(t, false)
	f.gateway.expansionErr = errors.New("model busy")

	res, err := f.orch.RunTurn(context.Background(), "t1", "user1", "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, f.searcher.queries)
	assert.Equal(t, "Query: q\nResult: results for q", res.Context.Block)
}

func TestRunTurnRetrievalRunsOnceOnOriginalQuery(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.orch.RunTurn(context.Background(), "t1", "user1", "battery life")
	require.NoError(t, err)

	assert.Equal(t, []string{"battery life"}, f.retriever.queries)
	assert.Equal(t, []int{4}, f.retriever.ks)
	assert.True(t, strings.HasPrefix(res.Context.Block, "\n\nRelevant Documents:\nfrag one\nfrag two\nQuery: battery life\n"))
}

func TestRunTurnRetrievalFailureSkipsDocuments(t *testing.T) {
	f := newFixture(t, true)
	f.retriever.err = errors.New("weaviate down")

	res, err := f.orch.RunTurn(context.Background(), "t1", "user1", "battery life")
	require.NoError(t, err)
	assert.NotContains(t, res.Context.Block, "Relevant Documents")
	assert.True(t, strings.HasPrefix(res.Context.Block, "Query: battery life"))
}

func TestRunTurnEmptyMessageSkipsContext(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.orch.RunTurn(context.Background(), "t1", "user1", "")
	require.NoError(t, err)

	assert.Empty(t, res.Context.Block)
	assert.Zero(t, f.searcher.count())
	assert.Zero(t, f.retriever.count())
	assert.Zero(t, f.gateway.expansions)

	gen := f.gateway.lastGeneration()
	require.Len(t, gen, 2)
	assert.Equal(t, schema.System, gen[0].Role)
	assert.Equal(t, schema.User, gen[1].Role)
}

func TestRunTurnUsesFullThreadHistory(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.orch.RunTurn(ctx, "t1", "user1", "first")
	require.NoError(t, err)
	_, err = f.orch.RunTurn(ctx, "t1", "user1", "second")
	require.NoError(t, err)

	msgs, err := f.threads.Load(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "second", msgs[2].Content)

	gen := f.gateway.lastGeneration()
	// system, context block, then the three thread messages preceding the reply
	require.Len(t, gen, 5)
	assert.Equal(t, "first", gen[2].Content)
	assert.Equal(t, "second", gen[4].Content)
}

func TestRunTurnGatewayFailure(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.profiles.Put(ctx, "user1", memorymodel.UserProfile{Name: "Bob"}))
	f.gateway.generateErr = errors.New("upstream 503")

	var observed []State
	res, err := f.orch.RunTurn(ctx, "t1", "user1", "hello", WithObserver(func(_ context.Context, s State) {
		observed = append(observed, s)
	}))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ai.ErrGateway)

	assert.Equal(t, StateFailed, observed[len(observed)-1])
	assert.NotContains(t, observed, StateMemoryUpdate)
	assert.Empty(t, f.gateway.structured)

	profile, err := f.profiles.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "Bob", profile.Name)
}

func TestRunTurnMemoryFailureKeepsResponse(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.profiles.Put(ctx, "user1", memorymodel.UserProfile{Name: "Bob"}))
	f.gateway.reply = "Hello Bob"
	f.gateway.structuredErr = errors.New("schema validation failed")

	res, err := f.orch.RunTurn(ctx, "t1", "user1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello Bob", res.Response)
	assert.Equal(t, StateDone, res.States[len(res.States)-1])

	var memErr *MemoryExtractionError
	require.ErrorAs(t, res.MemoryErr, &memErr)
	assert.Equal(t, "user1", memErr.UserID)

	profile, err := f.profiles.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "Bob", profile.Name)
}

func TestUpdateMemoryIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	history := []chat.Message{
		{Role: chat.RoleUser, Content: "Hi, my name is Alice. I live in New York and I like reading and hiking"},
		{Role: chat.RoleAssistant, Content: "Nice to meet you, Alice!"},
	}

	require.NoError(t, f.orch.updateMemory(ctx, "user1", nil, history))
	first, err := f.profiles.Get(ctx, "user1")
	require.NoError(t, err)

	require.NoError(t, f.orch.updateMemory(ctx, "user1", first, history))
	second, err := f.profiles.Get(ctx, "user1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUpdateMemoryReplacesProfile(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.profiles.Put(ctx, "user1", memorymodel.UserProfile{Name: "Bob", Location: "Paris", Interests: []string{"jazz"}}))

	f.gateway.extract = func([]*schema.Message) memorymodel.UserProfile {
		return memorymodel.UserProfile{Name: "Bob"}
	}

	existing, err := f.profiles.Get(ctx, "user1")
	require.NoError(t, err)
	require.NoError(t, f.orch.updateMemory(ctx, "user1", existing, nil))

	got, err := f.profiles.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "", got.Location)
	assert.Empty(t, got.Interests)

	require.NotEmpty(t, f.gateway.structured)
	assert.Contains(t, f.gateway.structured[0][0].Content, "Name: Bob\nLocation: Paris\nInterests: jazz")
}

type failingThreads struct {
	thread.Store
}

func (failingThreads) Load(context.Context, string) ([]chat.Message, error) {
	return nil, errors.New("db down")
}

func TestRunTurnIntakeFailure(t *testing.T) {
	gw := &fakeGateway{}
	orch, err := NewOrchestrator(Dependencies{
		Gateway:  gw,
		Threads:  failingThreads{Store: thread.NewInMemoryStore()},
		Profiles: memory.NewProfileStore(memory.NewInMemoryKV()),
	})
	require.NoError(t, err)

	_, err = orch.RunTurn(context.Background(), "t1", "user1", "hello")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ai.ErrGateway)
	assert.Zero(t, gw.generationCount())
}

func TestRunTurnCountsEveryStateEntered(t *testing.T) {
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	orch, err := NewOrchestrator(Dependencies{
		Gateway:  &fakeGateway{reply: "ok", extract: extractFromThread},
		Threads:  thread.NewInMemoryStore(),
		Profiles: memory.NewProfileStore(memory.NewInMemoryKV()),
		Searcher: &fakeSearcher{},
		Metrics:  metrics,
	})
	require.NoError(t, err)

	_, err = orch.RunTurn(context.Background(), "t1", "user1", "hello")
	require.NoError(t, err)

	for _, s := range []State{StateIntake, StateContextAssembly, StateGeneration, StateMemoryUpdate, StateDone} {
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TurnStates.WithLabelValues(string(s))), s)
	}
}

func TestRunTurnCountsFailedState(t *testing.T) {
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	orch, err := NewOrchestrator(Dependencies{
		Gateway:  &fakeGateway{generateErr: errors.New("upstream 503")},
		Threads:  thread.NewInMemoryStore(),
		Profiles: memory.NewProfileStore(memory.NewInMemoryKV()),
		Searcher: &fakeSearcher{},
		Metrics:  metrics,
	})
	require.NoError(t, err)

	_, err = orch.RunTurn(context.Background(), "t1", "user1", "hello")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TurnStates.WithLabelValues(string(StateFailed))))
	assert.Zero(t, testutil.ToFloat64(metrics.TurnStates.WithLabelValues(string(StateDone))))
}
