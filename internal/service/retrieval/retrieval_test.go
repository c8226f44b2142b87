package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestSanitizeCollectionName(t *testing.T) {
	cases := map[string]string{
		"hp victus faq.pdf":  "hp_victus_faq",
		"__notes__.txt":      "notes",
		"report-2024.v2.pdf": "report-2024",
		"...":                DefaultCollection,
		"":                   DefaultCollection,
		"日本語.txt":            DefaultCollection,
		"dir/My File!.txt":   "My_File",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeCollectionName(in), "input %q", in)
	}
}

func TestLoadChunksText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "faq.txt")
	body := strings.Repeat("The laptop battery lasts about eight hours. ", 60)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	chunks, err := LoadChunks(context.Background(), path, NewSplitter(200, 40))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 200)
	}
}

func TestLoadChunksRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slides.pptx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := LoadChunks(context.Background(), path, NewSplitter(1000, 200))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestBuildObjectsStableIDs(t *testing.T) {
	now := time.Unix(1700000000, 0)
	first := buildObjects("Document", "faq.txt", "faq", []string{"a", "b"}, now)
	second := buildObjects("Document", "faq.txt", "faq", []string{"a", "b"}, now)

	require.Len(t, first, 2)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.NotEqual(t, first[0].ID, first[1].ID)
	assert.Equal(t, "faq", first[1].Properties.(map[string]any)["collection"])
}

func TestParseFragments(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"Document": []any{
					map[string]any{
						"content":     "Battery lasts eight hours.",
						"source":      "faq.txt",
						"collection":  "faq",
						"_additional": map[string]any{"certainty": 0.91},
					},
				},
			},
		},
	}

	fragments, err := parseFragments(resp, "Document")
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Equal(t, "Battery lasts eight hours.", fragments[0].Content)
	assert.InDelta(t, 0.91, fragments[0].Certainty, 1e-9)
}

func TestParseFragmentsNil(t *testing.T) {
	_, err := parseFragments(nil, "Document")
	assert.Error(t, err)
}

func TestJoinContents(t *testing.T) {
	got := JoinContents([]Fragment{{Content: "one"}, {Content: "two"}})
	assert.Equal(t, "one\ntwo", got)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("report.PDF"))
	assert.True(t, Supported("notes.txt"))
	assert.False(t, Supported("slides.pptx"))
	assert.False(t, Supported("README"))
}
