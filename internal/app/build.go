package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/z-recall/backend/internal/config"
	"github.com/zhouzirui/z-recall/backend/internal/observability"
	"github.com/zhouzirui/z-recall/backend/internal/service/ai"
	"github.com/zhouzirui/z-recall/backend/internal/service/chat"
	"github.com/zhouzirui/z-recall/backend/internal/service/memory"
	"github.com/zhouzirui/z-recall/backend/internal/service/retrieval"
	"github.com/zhouzirui/z-recall/backend/internal/service/search"
	"github.com/zhouzirui/z-recall/backend/internal/service/thread"
	"github.com/zhouzirui/z-recall/backend/internal/service/turn"
)

// BuildResult holds the composed services.
type BuildResult struct {
	Config       *config.Config
	Chat         *chat.Service
	Turns        *turn.Service
	Orchestrator *turn.Orchestrator
	Profiles     *memory.ProfileStore
	Metrics      *observability.Metrics
	// Ingester is nil when Weaviate is not configured.
	Ingester *retrieval.Ingester

	// Cleanup releases stores and connections; call it on shutdown.
	Cleanup func() error
}

// Build composes every service from cfg. reg receives the Prometheus
// instruments; pass nil to skip metrics.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*BuildResult, error) {
	var metrics *observability.Metrics
	if reg != nil {
		metrics = observability.NewMetrics(cfg.Telemetry.MetricsNamespace, reg)
	}

	gateway, err := NewGateway(ctx, cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("llm gateway init failed: %w", err)
	}

	var closers []func() error
	cleanup := func() error {
		var errs []string
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}
	fail := func(err error) (*BuildResult, error) {
		_ = cleanup()
		return nil, err
	}

	threads, err := thread.NewStore(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("thread store init failed: %w", err))
	}
	closers = append(closers, threads.Close)

	chatStore, err := chat.NewStore(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("chat store init failed: %w", err))
	}
	chatSvc := chat.NewService(chatStore)
	closers = append(closers, chatSvc.Close)

	kv, err := memory.NewKV(ctx, cfg.Storage)
	if err != nil {
		return fail(fmt.Errorf("profile store init failed: %w", err))
	}
	profiles := memory.NewProfileStore(kv)
	closers = append(closers, profiles.Close)

	deps := turn.Dependencies{
		Gateway:  gateway,
		Threads:  threads,
		Profiles: profiles,
		Metrics:  metrics,
		TopK:     cfg.Retrieval.TopK,
	}

	if cfg.Search.Enabled() {
		deps.Searcher = search.NewTavily(cfg.Search)
	} else {
		log.Println("warning: TAVILY_API_KEY not set, web search results will carry errors")
	}

	var ingester *retrieval.Ingester
	if cfg.Retrieval.Enabled() {
		client, err := retrieval.NewClient(cfg.Retrieval)
		if err != nil {
			return fail(fmt.Errorf("weaviate client init failed: %w", err))
		}
		class := retrieval.DocumentClass(cfg.Retrieval.ClassName, cfg.Retrieval.Vectorizer)
		if err := retrieval.EnsureSchema(ctx, client, class); err != nil {
			log.Printf("warning: weaviate schema check failed, retrieval disabled: %v", err)
		} else {
			retriever := retrieval.NewWeaviate(client, cfg.Retrieval.ClassName)
			deps.Retriever = retriever
			ingester = retrieval.NewIngester(client, cfg.Retrieval.ClassName, cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap, retriever)
			log.Printf("[retrieval] weaviate ready at %s class=%s", cfg.Retrieval.WeaviateURL, cfg.Retrieval.ClassName)
		}
	} else {
		log.Println("WEAVIATE_URL 未配置，跳过文档检索功能")
	}

	orchestrator, err := turn.NewOrchestrator(deps)
	if err != nil {
		return fail(err)
	}

	return &BuildResult{
		Config:       cfg,
		Chat:         chatSvc,
		Turns:        turn.NewService(orchestrator, chatSvc, metrics),
		Orchestrator: orchestrator,
		Profiles:     profiles,
		Metrics:      metrics,
		Ingester:     ingester,
		Cleanup:      cleanup,
	}, nil
}

// NewGateway selects the LLM backend named by cfg.Backend.
func NewGateway(ctx context.Context, cfg config.AIConfig) (ai.Gateway, error) {
	switch cfg.Backend {
	case config.BackendOpenAI:
		gw, err := ai.NewOpenAIGateway(cfg)
		if err != nil {
			return nil, err
		}
		log.Printf("[ai] using openai backend model=%s", cfg.OpenAI.Model)
		return gw, nil
	case config.BackendArk:
		svc, err := ai.NewService(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Printf("[ai] using ark backend model=%s", cfg.Model)
		return svc, nil
	default:
		return nil, &config.ConfigurationError{Key: "LLM_BACKEND", Reason: fmt.Sprintf("unsupported backend %q", cfg.Backend)}
	}
}
