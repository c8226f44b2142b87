package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnavailable means no document retriever is configured.
var ErrUnavailable = errors.New("retrieval is not configured")

// ErrUnsupportedFileType is returned for uploads that are neither PDF nor plain text.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// DefaultCollection is used when a file name sanitizes to nothing.
const DefaultCollection = "uploaded_document"

// Fragment is one retrieved document chunk.
type Fragment struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Collection string  `json:"collection"`
	Certainty  float64 `json:"certainty"`
}

// Retriever returns the k fragments most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Fragment, error)
}

var (
	invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	leadingJunk      = regexp.MustCompile(`^[^a-zA-Z0-9]+`)
	trailingJunk     = regexp.MustCompile(`[^a-zA-Z0-9]+$`)
)

// SanitizeCollectionName derives a collection name from an uploaded file name:
// the part before the first dot, with unsafe characters replaced and
// non-alphanumerics trimmed from both ends.
func SanitizeCollectionName(filename string) string {
	base := filepath.Base(filename)
	if idx := strings.Index(base, "."); idx >= 0 {
		base = base[:idx]
	}

	name := invalidNameChars.ReplaceAllString(base, "_")
	name = leadingJunk.ReplaceAllString(name, "")
	name = trailingJunk.ReplaceAllString(name, "")
	if name == "" {
		return DefaultCollection
	}
	return name
}

// JoinContents concatenates fragment contents, one per line.
func JoinContents(fragments []Fragment) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		parts = append(parts, f.Content)
	}
	return strings.Join(parts, "\n")
}
