package turn

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	memorymodel "github.com/zhouzirui/z-recall/backend/internal/model/memory"
	"github.com/zhouzirui/z-recall/backend/internal/service/ai"
	"github.com/zhouzirui/z-recall/backend/internal/service/retrieval"
)

type fakeGateway struct {
	mu sync.Mutex

	reply         string
	expansion     string
	generateErr   error
	expansionErr  error
	structuredErr error

	// extract derives the profile returned by structured calls.
	extract func(messages []*schema.Message) memorymodel.UserProfile

	generations [][]*schema.Message
	expansions  int
	structured  [][]*schema.Message
}

func isExpansion(messages []*schema.Message) bool {
	return len(messages) == 1 && messages[0].Role == schema.User && strings.Contains(messages[0].Content, "Similar queries:")
}

func (g *fakeGateway) Complete(_ context.Context, messages []*schema.Message) (*schema.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if isExpansion(messages) {
		g.expansions++
		if g.expansionErr != nil {
			return nil, g.expansionErr
		}
		return schema.AssistantMessage(g.expansion, nil), nil
	}

	g.generations = append(g.generations, messages)
	if g.generateErr != nil {
		return nil, &ai.GatewayError{Op: "complete", Err: g.generateErr}
	}
	return schema.AssistantMessage(g.reply, nil), nil
}

func (g *fakeGateway) CompleteStructured(_ context.Context, messages []*schema.Message, _ ai.Schema, out any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.structured = append(g.structured, messages)
	if g.structuredErr != nil {
		return &ai.GatewayError{Op: "structured", Err: g.structuredErr}
	}

	target, ok := out.(*memorymodel.UserProfile)
	if !ok {
		return errors.New("unexpected structured target")
	}
	if g.extract != nil {
		*target = g.extract(messages)
	}
	return nil
}

func (g *fakeGateway) generationCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.generations)
}

func (g *fakeGateway) expansionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expansions
}

func (g *fakeGateway) structuredCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.structured)
}

func (g *fakeGateway) lastGeneration() []*schema.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.generations) == 0 {
		return nil
	}
	return g.generations[len(g.generations)-1]
}

// extractFromThread is a deterministic stand-in for the model: it reads
// facts from user messages of the thread.
func extractFromThread(messages []*schema.Message) memorymodel.UserProfile {
	var p memorymodel.UserProfile
	for _, m := range messages {
		if m.Role != schema.User {
			continue
		}
		text := m.Content
		if strings.Contains(text, "my name is Alice") {
			p.Name = "Alice"
		}
		if strings.Contains(text, "I live in New York") {
			p.Location = "New York"
		}
		if strings.Contains(text, "reading") {
			p.Interests = append(p.Interests, "reading")
		}
		if strings.Contains(text, "hiking") {
			p.Interests = append(p.Interests, "hiking")
		}
	}
	return p
}

type fakeSearcher struct {
	mu      sync.Mutex
	fail    map[string]error
	queries []string
}

func (s *fakeSearcher) Search(_ context.Context, query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if err, ok := s.fail[query]; ok {
		return "", err
	}
	return "results for " + query, nil
}

func (s *fakeSearcher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

type fakeRetriever struct {
	mu        sync.Mutex
	fragments []retrieval.Fragment
	err       error
	queries   []string
	ks        []int
}

func (r *fakeRetriever) Retrieve(_ context.Context, query string, k int) ([]retrieval.Fragment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	r.ks = append(r.ks, k)
	if r.err != nil {
		return nil, r.err
	}
	return r.fragments, nil
}

func (r *fakeRetriever) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}
