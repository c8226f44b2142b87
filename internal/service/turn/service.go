package turn

import (
	"context"
	"log"

	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/z-recall/backend/internal/observability"
)

// Runner runs one uncached turn.
type Runner interface {
	RunTurn(ctx context.Context, threadID, userID, text string, opts ...RunOption) (*Result, error)
}

// Cache is the session-scoped response cache.
type Cache interface {
	Lookup(ctx context.Context, sessionID, query string) (string, bool, error)
	Record(ctx context.Context, sessionID, userID, query, response string) error
}

// Reply is what the calling layer returns to a client.
type Reply struct {
	Response  string
	Cached    bool
	MemoryErr error
}

// Service is the calling layer around the orchestrator. The session id is
// used as the thread id.
type Service struct {
	runner  Runner
	cache   Cache
	metrics *observability.Metrics
	flight  singleflight.Group
}

// NewService composes a runner and a cache.
func NewService(runner Runner, cache Cache, metrics *observability.Metrics) *Service {
	return &Service{runner: runner, cache: cache, metrics: metrics}
}

// Turn runs one turn without consulting the cache.
func (s *Service) Turn(ctx context.Context, userID, threadID, text string, opts ...RunOption) (string, error) {
	result, err := s.runner.RunTurn(ctx, threadID, userID, text, opts...)
	if err != nil {
		return "", err
	}
	return result.Response, nil
}

// CachedOrRun serves an exact-match cached response for the session when
// one exists; otherwise it runs a turn and records a non-empty response.
// Concurrent identical requests without an observer share one turn, which
// outlives any single caller's cancellation.
func (s *Service) CachedOrRun(ctx context.Context, sessionID, userID, query string, opts ...RunOption) (Reply, error) {
	if response, ok := s.lookup(ctx, sessionID, query); ok {
		return Reply{Response: response, Cached: true}, nil
	}

	// Observed turns report their own states, so they are never shared.
	if ObserverFrom(opts...) != nil {
		return s.run(ctx, sessionID, userID, query, opts...)
	}

	ch := s.flight.DoChan(sessionID+"\x00"+query, func() (any, error) {
		shared := context.WithoutCancel(ctx)
		// A caller that finished just before this flight started may have
		// recorded the answer already.
		if response, ok := s.recheck(shared, sessionID, query); ok {
			return Reply{Response: response, Cached: true}, nil
		}
		reply, err := s.run(shared, sessionID, userID, query)
		if err != nil {
			return nil, err
		}
		return reply, nil
	})

	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Reply{}, res.Err
		}
		return res.Val.(Reply), nil
	}
}

func (s *Service) run(ctx context.Context, sessionID, userID, query string, opts ...RunOption) (Reply, error) {
	result, err := s.runner.RunTurn(ctx, sessionID, userID, query, opts...)
	if err != nil {
		return Reply{}, err
	}

	if result.Response != "" && s.cache != nil {
		if err := s.cache.Record(ctx, sessionID, userID, query, result.Response); err != nil {
			log.Printf("[cache] warning: failed to record response session=%s: %v", sessionID, err)
		}
	}
	return Reply{Response: result.Response, MemoryErr: result.MemoryErr}, nil
}

func (s *Service) recheck(ctx context.Context, sessionID, query string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	response, ok, err := s.cache.Lookup(ctx, sessionID, query)
	if err != nil || !ok {
		return "", false
	}
	s.metrics.IncCacheLookup("hit")
	return response, true
}

func (s *Service) lookup(ctx context.Context, sessionID, query string) (string, bool) {
	if s.cache == nil {
		return "", false
	}

	response, ok, err := s.cache.Lookup(ctx, sessionID, query)
	if err != nil {
		s.metrics.IncCacheLookup("error")
		log.Printf("[cache] warning: lookup failed session=%s: %v", sessionID, err)
		return "", false
	}
	if !ok {
		s.metrics.IncCacheLookup("miss")
		return "", false
	}
	s.metrics.IncCacheLookup("hit")
	log.Printf("[cache] hit session=%s", sessionID)
	return response, true
}
