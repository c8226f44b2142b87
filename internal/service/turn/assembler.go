package turn

import (
	"strings"

	memorymodel "github.com/zhouzirui/z-recall/backend/internal/model/memory"
	"github.com/zhouzirui/z-recall/backend/internal/service/retrieval"
	"github.com/zhouzirui/z-recall/backend/internal/service/search"
)

const documentsHeader = "\n\nRelevant Documents:\n"

// Sources is everything gathered for one turn before generation.
type Sources struct {
	Profile *memorymodel.UserProfile
	// HasUserMessage is false when the thread has no non-empty user message.
	HasUserMessage bool
	// Retrieved is true when a retriever ran, even if it found nothing.
	Retrieved bool
	Fragments []retrieval.Fragment
	Outcomes  []search.Outcome
}

// AssembledContext is the generation-ready context of a turn.
type AssembledContext struct {
	// Memory is the formatted profile embedded in the system instruction.
	Memory string `json:"memory"`
	// Block holds retrieved documents followed by search results. It is
	// empty when there is no user message to respond to.
	Block string `json:"block,omitempty"`
}

// HasBlock reports whether a context block is present.
func (c AssembledContext) HasBlock() bool { return c.Block != "" }

// Assemble merges profile memory, retrieved fragments and search outcomes.
func Assemble(src Sources) AssembledContext {
	out := AssembledContext{Memory: memorymodel.Format(src.Profile)}
	if !src.HasUserMessage {
		return out
	}

	parts := make([]string, 0, 2)
	if src.Retrieved {
		parts = append(parts, documentsHeader+retrieval.JoinContents(src.Fragments))
	}

	lines := make([]string, 0, len(src.Outcomes))
	for _, o := range src.Outcomes {
		lines = append(lines, o.String())
	}
	parts = append(parts, strings.Join(lines, "\n"))

	out.Block = strings.Join(parts, "\n")
	return out
}
