package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Searcher runs one web search and returns its result rendered as text.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// SearchError records a failed search for one query.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %q: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// Outcome is the per-query result of a fan-out. Exactly one of Result or
// Err is meaningful.
type Outcome struct {
	Query  string
	Result string
	Err    error
}

// Failed reports whether the query errored.
func (o Outcome) Failed() bool { return o.Err != nil }

// String renders the outcome the way it appears in the context block.
func (o Outcome) String() string {
	if o.Err != nil {
		msg := o.Err.Error()
		var searchErr *SearchError
		if errors.As(o.Err, &searchErr) && searchErr.Err != nil {
			msg = searchErr.Err.Error()
		}
		return "Query: " + o.Query + "\nError: " + msg
	}
	return "Query: " + o.Query + "\nResult: " + o.Result
}

// Run searches every query in order. A failing query becomes an Outcome
// carrying a *SearchError; it never stops the remaining queries.
func Run(ctx context.Context, s Searcher, queries []string) []Outcome {
	outcomes := make([]Outcome, 0, len(queries))
	for _, q := range queries {
		outcomes = append(outcomes, runOne(ctx, s, q))
	}
	return outcomes
}

func runOne(ctx context.Context, s Searcher, query string) (out Outcome) {
	out.Query = query
	defer func() {
		if r := recover(); r != nil {
			out.Result = ""
			out.Err = &SearchError{Query: query, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if s == nil {
		out.Err = &SearchError{Query: query, Err: fmt.Errorf("search is not configured")}
		return out
	}

	result, err := s.Search(ctx, query)
	if err != nil {
		out.Err = &SearchError{Query: query, Err: err}
		return out
	}
	out.Result = strings.TrimSpace(result)
	return out
}
