package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/z-recall/backend/internal/model/chat"
	memorymodel "github.com/zhouzirui/z-recall/backend/internal/model/memory"
	"github.com/zhouzirui/z-recall/backend/internal/observability"
	"github.com/zhouzirui/z-recall/backend/internal/service/ai"
	"github.com/zhouzirui/z-recall/backend/internal/service/retrieval"
	"github.com/zhouzirui/z-recall/backend/internal/service/search"
	"github.com/zhouzirui/z-recall/backend/internal/service/thread"
)

var tracer = otel.Tracer("zrecall/turn")

var profileSchema = ai.Schema{Name: "user_profile", Definition: memorymodel.ProfileSchema}

// DefaultTopK is the number of fragments retrieved when none is configured.
const DefaultTopK = 10

// ProfileStore is the long-term memory used by the orchestrator.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*memorymodel.UserProfile, error)
	Put(ctx context.Context, userID string, profile memorymodel.UserProfile) error
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Gateway  ai.Gateway
	Threads  thread.Store
	Profiles ProfileStore
	// Retriever is nil when document retrieval is not configured.
	Retriever retrieval.Retriever
	Searcher  search.Searcher
	Metrics   *observability.Metrics
	TopK      int
}

// MemoryExtractionError reports a failed profile update. The turn's
// response is still valid when this error is present.
type MemoryExtractionError struct {
	UserID string
	Err    error
}

func (e *MemoryExtractionError) Error() string {
	return fmt.Sprintf("memory update for user %s: %v", e.UserID, e.Err)
}

func (e *MemoryExtractionError) Unwrap() error { return e.Err }

// Result is the outcome of a completed turn.
type Result struct {
	Response string
	Context  AssembledContext
	States   []State
	// MemoryErr is set when the profile could not be updated.
	MemoryErr error
}

type runOptions struct {
	observer Observer
}

// RunOption customizes a single RunTurn call.
type RunOption func(*runOptions)

// WithObserver reports every state the turn enters.
func WithObserver(observer Observer) RunOption {
	return func(o *runOptions) { o.observer = observer }
}

// ObserverFrom returns the observer carried by opts, or nil.
func ObserverFrom(opts ...RunOption) Observer {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	return ro.observer
}

// Orchestrator runs a turn through INTAKE, CONTEXT_ASSEMBLY, GENERATION,
// MEMORY_UPDATE and DONE. Only GENERATION may fail the turn.
type Orchestrator struct {
	gateway   ai.Gateway
	threads   thread.Store
	profiles  ProfileStore
	retriever retrieval.Retriever
	searcher  search.Searcher
	expander  *Expander
	metrics   *observability.Metrics
	topK      int
}

// NewOrchestrator validates deps and builds an Orchestrator.
func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Gateway == nil:
		return nil, errors.New("turn: gateway is required")
	case deps.Threads == nil:
		return nil, errors.New("turn: thread store is required")
	case deps.Profiles == nil:
		return nil, errors.New("turn: profile store is required")
	}

	topK := deps.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	return &Orchestrator{
		gateway:   deps.Gateway,
		threads:   deps.Threads,
		profiles:  deps.Profiles,
		retriever: deps.Retriever,
		searcher:  deps.Searcher,
		expander:  NewExpander(deps.Gateway),
		metrics:   deps.Metrics,
		topK:      topK,
	}, nil
}

// RunTurn appends text to the thread and produces the assistant reply.
// A gateway failure during generation returns a *ai.GatewayError; store
// failures during intake are returned before any model call.
func (o *Orchestrator) RunTurn(ctx context.Context, threadID, userID, text string, opts ...RunOption) (*Result, error) {
	observer := ObserverFrom(opts...)

	ctx, span := tracer.Start(ctx, "Orchestrator.RunTurn", trace.WithAttributes(
		attribute.String("turn.thread_id", threadID),
		attribute.String("turn.user_id", userID),
	))
	defer span.End()

	m := newMachine(func(ctx context.Context, s State) {
		span.AddEvent(string(s))
		o.metrics.IncState(string(s))
		if observer != nil {
			observer(ctx, s)
		}
	}, func(s State, d time.Duration) {
		o.metrics.ObserveStage(string(s), d)
	})

	m.must(ctx, StateIntake)
	history, profile, err := o.intake(ctx, threadID, userID, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.IncTurn("error")
		return nil, err
	}

	m.must(ctx, StateContextAssembly)
	assembled := Assemble(o.gather(ctx, history, profile))

	m.must(ctx, StateGeneration)
	reply, err := o.generate(ctx, assembled, history)
	if err != nil {
		m.must(ctx, StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.IncTurn("failed")
		log.Printf("[turn] generation failed thread=%s user=%s: %v", threadID, userID, err)
		return nil, err
	}

	assistant := chat.Message{Role: chat.RoleAssistant, Content: reply.Content}
	if err := o.threads.Append(ctx, threadID, assistant); err != nil {
		log.Printf("[turn] warning: failed to append assistant message thread=%s: %v", threadID, err)
	}
	history = append(history, assistant)

	m.must(ctx, StateMemoryUpdate)
	result := &Result{Response: reply.Content, Context: assembled}
	if err := o.updateMemory(ctx, userID, profile, history); err != nil {
		result.MemoryErr = err
		o.metrics.IncMemoryUpdate("failed")
		log.Printf("[memory] warning: %v", err)
	} else {
		o.metrics.IncMemoryUpdate("ok")
	}

	m.must(ctx, StateDone)
	result.States = m.path()
	o.metrics.IncTurn("done")
	log.Printf("[turn] completed thread=%s user=%s length=%d", threadID, userID, len(result.Response))
	return result, nil
}

func (o *Orchestrator) intake(ctx context.Context, threadID, userID, text string) ([]chat.Message, *memorymodel.UserProfile, error) {
	history, err := o.threads.Load(ctx, threadID)
	if err != nil {
		return nil, nil, fmt.Errorf("intake: load thread %s: %w", threadID, err)
	}

	incoming := chat.Message{Role: chat.RoleUser, Content: text}
	if err := o.threads.Append(ctx, threadID, incoming); err != nil {
		return nil, nil, fmt.Errorf("intake: append to thread %s: %w", threadID, err)
	}
	history = append(history, incoming)

	profile, err := o.profiles.Get(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("intake: load profile: %w", err)
	}
	return history, profile, nil
}

// gather collects retrieval and search context for the latest user message.
func (o *Orchestrator) gather(ctx context.Context, history []chat.Message, profile *memorymodel.UserProfile) Sources {
	src := Sources{Profile: profile}

	latest, ok := chat.LatestUserContent(history)
	if !ok || strings.TrimSpace(latest) == "" {
		return src
	}
	src.HasUserMessage = true

	if o.retriever != nil {
		fragments, err := o.retriever.Retrieve(ctx, latest, o.topK)
		switch {
		case err == nil:
			src.Retrieved = true
			src.Fragments = fragments
			o.metrics.IncRetrieval("ok")
		case errors.Is(err, retrieval.ErrUnavailable):
		default:
			o.metrics.IncRetrieval("error")
			log.Printf("[retrieval] warning: skipping documents: %v", err)
		}
	}

	queries := append([]string{latest}, o.expander.Expand(ctx, latest)...)
	src.Outcomes = search.Run(ctx, o.searcher, queries)
	for _, outcome := range src.Outcomes {
		if outcome.Failed() {
			o.metrics.IncSearch("error")
			log.Printf("[search] warning: %v", outcome.Err)
			continue
		}
		o.metrics.IncSearch("ok")
	}
	return src
}

func (o *Orchestrator) generate(ctx context.Context, assembled AssembledContext, history []chat.Message) (*schema.Message, error) {
	messages, err := ai.GenerationMessages(ctx, assembled.Memory, assembled.Block, ai.HistoryMessages(history))
	if err != nil {
		return nil, ai.AsGatewayError("generate", err)
	}

	reply, err := o.gateway.Complete(ctx, messages)
	if err != nil {
		return nil, ai.AsGatewayError("generate", err)
	}
	if reply == nil {
		return nil, &ai.GatewayError{Op: "generate", Err: errors.New("empty reply")}
	}
	return reply, nil
}

// updateMemory extracts a new profile from the full thread and replaces
// the stored one.
func (o *Orchestrator) updateMemory(ctx context.Context, userID string, existing *memorymodel.UserProfile, history []chat.Message) error {
	messages, err := ai.MemoryMessages(ctx, memorymodel.Format(existing), ai.HistoryMessages(history))
	if err != nil {
		return &MemoryExtractionError{UserID: userID, Err: err}
	}

	var next memorymodel.UserProfile
	if err := o.gateway.CompleteStructured(ctx, messages, profileSchema, &next); err != nil {
		return &MemoryExtractionError{UserID: userID, Err: err}
	}

	if err := o.profiles.Put(ctx, userID, next); err != nil {
		return &MemoryExtractionError{UserID: userID, Err: err}
	}
	return nil
}
