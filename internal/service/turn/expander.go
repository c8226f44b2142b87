package turn

import (
	"context"
	"log"
	"strings"

	"github.com/zhouzirui/z-recall/backend/internal/service/ai"
)

// MaxExpansions bounds the paraphrases added to a query set.
const MaxExpansions = 3

// Expander asks the model for paraphrases of a query to widen search recall.
type Expander struct {
	gateway ai.Gateway
	limit   int
}

// NewExpander creates an Expander returning at most MaxExpansions paraphrases.
func NewExpander(gateway ai.Gateway) *Expander {
	return &Expander{gateway: gateway, limit: MaxExpansions}
}

// Expand never fails: a gateway error or malformed output yields fewer or
// no paraphrases.
func (e *Expander) Expand(ctx context.Context, query string) []string {
	if e == nil || e.gateway == nil || strings.TrimSpace(query) == "" {
		return nil
	}

	messages, err := ai.ExpansionMessages(ctx, query)
	if err != nil {
		log.Printf("[turn] warning: expansion prompt failed: %v", err)
		return nil
	}

	reply, err := e.gateway.Complete(ctx, messages)
	if err != nil {
		log.Printf("[turn] warning: query expansion failed: %v", err)
		return nil
	}
	return parseExpansions(reply.Content, e.limit)
}

func parseExpansions(raw string, limit int) []string {
	out := make([]string, 0, limit)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
		if len(out) == limit {
			break
		}
	}
	return out
}
