package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/z-recall/backend/internal/config"
)

var tracer = otel.Tracer("zrecall/retrieval")

// NewClient connects to the Weaviate instance named in cfg.
func NewClient(cfg config.RetrievalConfig) (*weaviate.Client, error) {
	if !cfg.Enabled() {
		return nil, ErrUnavailable
	}

	u, err := url.Parse(cfg.WeaviateURL)
	if err != nil {
		return nil, fmt.Errorf("parse WEAVIATE_URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("WEAVIATE_URL must include scheme and host: %q", cfg.WeaviateURL)
	}

	wcfg := weaviate.Config{Host: u.Host, Scheme: u.Scheme}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// DocumentClass describes the class that stores document chunks.
func DocumentClass(className, vectorizer string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "A chunk of an uploaded document.",
		Vectorizer:  vectorizer,
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "The uploaded file the chunk came from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "collection",
				DataType:        []string{"text"},
				Description:     "Collection name derived from the file name.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"int"},
				Description:     "Unix milliseconds when the chunk was imported.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureSchema creates the document class when it does not exist yet.
func EnsureSchema(ctx context.Context, client *weaviate.Client, class *models.Class) error {
	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		return nil
	}

	log.Printf("[retrieval] creating weaviate class %s", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", class.Class, err)
	}
	return nil
}

// Weaviate is a nearText Retriever over the document class. Once a document
// has been ingested, queries are restricted to its collection.
type Weaviate struct {
	client    *weaviate.Client
	className string

	mu     sync.RWMutex
	active string
}

// NewWeaviate creates the retriever.
func NewWeaviate(client *weaviate.Client, className string) *Weaviate {
	return &Weaviate{client: client, className: className}
}

// SetActiveCollection switches retrieval to a collection. Empty means all.
func (w *Weaviate) SetActiveCollection(collection string) {
	w.mu.Lock()
	w.active = collection
	w.mu.Unlock()
}

// ActiveCollection returns the collection queries are restricted to.
func (w *Weaviate) ActiveCollection() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// Retrieve runs a nearText query for the k most similar chunks.
func (w *Weaviate) Retrieve(ctx context.Context, query string, k int) ([]Fragment, error) {
	ctx, span := tracer.Start(ctx, "Weaviate.Retrieve", trace.WithAttributes(
		attribute.String("retrieval.class", w.className),
		attribute.Int("retrieval.k", k),
	))
	defer span.End()

	if k <= 0 {
		k = 10
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "collection"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	get := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k)

	if active := w.ActiveCollection(); active != "" {
		get = get.WithWhere(filters.Where().
			WithPath([]string{"collection"}).
			WithOperator(filters.Equal).
			WithValueString(active))
	}

	resp, err := get.Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("weaviate nearText: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate nearText: %s", resp.Errors[0].Message)
	}

	fragments, err := parseFragments(resp, w.className)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("retrieval.fragments", len(fragments)))
	return fragments, nil
}

type documentHit struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	Collection string `json:"collection"`
	Additional struct {
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}

func parseFragments(resp *models.GraphQLResponse, className string) ([]Fragment, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL response data: %w", err)
	}

	var parsed struct {
		Get map[string][]documentHit `json:"Get"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal GraphQL response data: %w", err)
	}

	hits := parsed.Get[className]
	fragments := make([]Fragment, 0, len(hits))
	for _, h := range hits {
		fragments = append(fragments, Fragment{
			Content:    h.Content,
			Source:     h.Source,
			Collection: h.Collection,
			Certainty:  h.Additional.Certainty,
		})
	}
	return fragments, nil
}
