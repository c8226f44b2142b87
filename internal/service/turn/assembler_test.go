package turn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	memorymodel "github.com/zhouzirui/z-recall/backend/internal/model/memory"
	"github.com/zhouzirui/z-recall/backend/internal/service/retrieval"
	"github.com/zhouzirui/z-recall/backend/internal/service/search"
)

func TestAssembleWithoutUserMessage(t *testing.T) {
	got := Assemble(Sources{
		Profile:   &memorymodel.UserProfile{Name: "Alice"},
		Retrieved: true,
		Fragments: []retrieval.Fragment{{Content: "ignored"}},
	})
	assert.False(t, got.HasBlock())
	assert.Equal(t, "Name: Alice\nLocation: Unknown\nInterests: ", got.Memory)
}

func TestAssembleOrdersDocumentsBeforeSearch(t *testing.T) {
	got := Assemble(Sources{
		HasUserMessage: true,
		Retrieved:      true,
		Fragments:      []retrieval.Fragment{{Content: "doc a"}, {Content: "doc b"}},
		Outcomes: []search.Outcome{
			{Query: "q", Result: "r"},
			{Query: "q2", Err: &search.SearchError{Query: "q2", Err: errors.New("boom")}},
		},
	})
	assert.Equal(t, "\n\nRelevant Documents:\ndoc a\ndoc b\nQuery: q\nResult: r\nQuery: q2\nError: boom", got.Block)
}

func TestAssembleRetrievedNothing(t *testing.T) {
	got := Assemble(Sources{
		HasUserMessage: true,
		Retrieved:      true,
		Outcomes:       []search.Outcome{{Query: "q", Result: "r"}},
	})
	assert.Equal(t, "\n\nRelevant Documents:\n\nQuery: q\nResult: r", got.Block)
}

func TestParseExpansions(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseExpansions(" a ,, b ,", 3))
	assert.Equal(t, []string{"a", "b", "c"}, parseExpansions("a,b,c,d", 3))
	assert.Empty(t, parseExpansions("", 3))
}
