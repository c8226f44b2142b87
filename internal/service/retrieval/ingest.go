package retrieval

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Ingester loads uploaded files, splits them into chunks and imports the
// chunks into Weaviate.
type Ingester struct {
	client    *weaviate.Client
	className string
	splitter  textsplitter.TextSplitter
	retriever *Weaviate
}

// NewIngester creates an Ingester. When retriever is non-nil it is switched
// to each newly ingested collection.
func NewIngester(client *weaviate.Client, className string, chunkSize, chunkOverlap int, retriever *Weaviate) *Ingester {
	return &Ingester{
		client:    client,
		className: className,
		splitter:  NewSplitter(chunkSize, chunkOverlap),
		retriever: retriever,
	}
}

// NewSplitter returns the recursive character splitter used for uploads.
func NewSplitter(chunkSize, chunkOverlap int) textsplitter.TextSplitter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
}

// Supported reports whether LoadChunks can read the file by its extension.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".txt":
		return true
	}
	return false
}

// LoadChunks reads a .pdf or .txt file and splits it into chunk texts.
func LoadChunks(ctx context.Context, path string, splitter textsplitter.TextSplitter) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var loader documentloaders.Loader
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		loader = documentloaders.NewPDF(f, info.Size())
	case ".txt":
		loader = documentloaders.NewText(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Ext(path))
	}

	docs, err := loader.LoadAndSplit(ctx, splitter)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	chunks := make([]string, 0, len(docs))
	for _, doc := range docs {
		if text := strings.TrimSpace(doc.PageContent); text != "" {
			chunks = append(chunks, text)
		}
	}
	return chunks, nil
}

// IngestFile imports the chunks of path under collection and returns the
// number of chunks Weaviate accepted.
func (i *Ingester) IngestFile(ctx context.Context, path, collection string) (int, error) {
	ctx, span := tracer.Start(ctx, "Ingester.IngestFile")
	defer span.End()

	chunks, err := LoadChunks(ctx, path, i.splitter)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		log.Printf("[retrieval] warning: no chunks produced for %s", path)
		return 0, nil
	}

	source := filepath.Base(path)
	objects := buildObjects(i.className, source, collection, chunks, time.Now())

	resp, err := i.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import to weaviate: %w", err)
	}

	imported := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, itemErr := range item.Result.Errors.Error {
				log.Printf("[retrieval] warning: batch item failed for %s: %s", source, itemErr.Message)
			}
			continue
		}
		imported++
	}

	if i.retriever != nil {
		i.retriever.SetActiveCollection(collection)
	}

	log.Printf("[retrieval] ingested %s into collection=%s chunks=%d/%d", source, collection, imported, len(chunks))
	return imported, nil
}

func buildObjects(className, source, collection string, chunks []string, now time.Time) []*models.Object {
	objects := make([]*models.Object, 0, len(chunks))
	for idx, chunk := range chunks {
		// Stable IDs make re-uploading the same file an upsert.
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s\x00%d\x00%s", collection, idx, chunk)))
		objects = append(objects, &models.Object{
			Class: className,
			ID:    strfmt.UUID(id.String()),
			Properties: map[string]any{
				"content":     chunk,
				"source":      source,
				"collection":  collection,
				"ingested_at": now.UnixMilli(),
			},
		})
	}
	return objects
}
