package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/z-recall/backend/internal/config"
)

var tracer = otel.Tracer("zrecall/search")

const (
	defaultTavilyURL  = "https://api.tavily.com"
	maxRateLimitTries = 4
)

// ErrRateLimited is returned when Tavily keeps answering HTTP 429.
var ErrRateLimited = errors.New("tavily: rate limited")

// Result is one hit returned by the search API.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Tavily calls the Tavily search API.
type Tavily struct {
	APIKey     string
	BaseURL    string
	Depth      string
	MaxResults int
	client     *http.Client
	// maxBackoff caps the wait between retries on HTTP 429.
	maxBackoff   time.Duration
	initialDelay time.Duration
	maxAttempts  int
}

// NewTavily constructs a Tavily search provider from configuration.
func NewTavily(cfg config.SearchConfig) *Tavily {
	return NewTavilyWithClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

// NewTavilyWithClient constructs a Tavily search provider using the supplied HTTP client.
func NewTavilyWithClient(cfg config.SearchConfig, client *http.Client) *Tavily {
	t := &Tavily{
		APIKey:     cfg.TavilyAPIKey,
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		Depth:      cfg.Depth,
		MaxResults: cfg.MaxResults,
		client:     client,
		maxBackoff:   30 * time.Second,
		initialDelay: time.Second,
		maxAttempts:  maxRateLimitTries,
	}
	if t.BaseURL == "" {
		t.BaseURL = defaultTavilyURL
	}
	if t.Depth == "" {
		t.Depth = "basic"
	}
	if t.MaxResults <= 0 {
		t.MaxResults = 5
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: 10 * time.Second}
	}
	return t
}

// Search posts a query to Tavily and renders the hits as text.
func (t *Tavily) Search(ctx context.Context, query string) (string, error) {
	ctx, span := tracer.Start(ctx, "Tavily.Search", trace.WithAttributes(attribute.String("search.query", query)))
	defer span.End()

	results, err := t.search(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	return Render(results), nil
}

func (t *Tavily) search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}

	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      t.APIKey,
		"search_depth": t.Depth,
		"max_results":  t.MaxResults,
	})
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	delay := t.initialDelay
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = t.client.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()
		if attempt >= t.maxAttempts {
			return nil, fmt.Errorf("%w after %d attempts", ErrRateLimited, attempt)
		}

		// Back off and retry on 429, doubling the delay up to maxBackoff.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < t.maxBackoff {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var response struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	results := response.Results
	if len(results) > t.MaxResults {
		results = results[:t.MaxResults]
	}
	return results, nil
}

// Render formats search hits as a JSON array of {url, content} objects.
func Render(results []Result) string {
	type hit struct {
		URL     string `json:"url"`
		Content string `json:"content"`
	}
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hit{URL: r.URL, Content: r.Content})
	}
	data, err := json.Marshal(hits)
	if err != nil {
		return ""
	}
	return string(data)
}
