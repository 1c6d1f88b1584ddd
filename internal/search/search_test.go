package search

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSupported(t *testing.T) {
	assert.True(t, Supported("docs/en/a.md"))
	assert.True(t, Supported("notes.TXT"))
	assert.True(t, Supported("manual.pdf"))
	assert.False(t, Supported("mkdocs.yml"))
}

func TestSplitPacksParagraphsWithOverlap(t *testing.T) {
	l := &Loader{ChunkSize: 20, ChunkOverlap: 5}

	chunks := l.split("aaaaaaaaaa\n\nbbbbbbbbbb\n\ncccccccccc")
	require.Len(t, chunks, 3)
	assert.Equal(t, "aaaaaaaaaa", chunks[0])
	assert.Equal(t, "aaaaa\n\nbbbbbbbbbb", chunks[1])
	assert.Equal(t, "bbbbb\n\ncccccccccc", chunks[2])
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 20)
	}

	assert.Empty(t, l.split("  \n\n  "))
}

func TestSplitHardWrapsLongParagraphs(t *testing.T) {
	l := &Loader{ChunkSize: 10}
	chunks := l.split(strings.Repeat("x", 25))
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}

func TestLoadTextAssignsStableIDs(t *testing.T) {
	l := NewLoader(zap.NewNop())
	docs := l.LoadText("Q: how?\n\nA: like this", "qa:Q-1", KindQA, map[string]any{"question_id": "Q-1"})
	require.Len(t, docs, 1)
	assert.Equal(t, chunkID("qa:Q-1", 0), docs[0].ID)
	assert.Equal(t, "qa:Q-1", docs[0].Source)
	assert.Equal(t, KindQA, docs[0].Kind)
	assert.Equal(t, 1, docs[0].TotalChunks)
	assert.Equal(t, "Q-1", docs[0].Metadata["question_id"])

	again := l.LoadText("different", "qa:Q-1", KindQA, nil)
	assert.Equal(t, docs[0].ID, again[0].ID)
	assert.NotEqual(t, chunkID("qa:Q-2", 0), docs[0].ID)
}

func TestLoadFileAndDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "en"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "en", "guide.md"), []byte("# Guide\n\nBody"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".cache", "x.md"), []byte("hidden"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "mkdocs.yml"), []byte("nav: []"), 0o644))

	l := NewLoader(nil)
	docs, err := l.LoadDirectory(root)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "guide.md", docs[0].FileName)
	assert.Equal(t, filepath.Join(root, "en", "guide.md"), docs[0].Source)

	_, err = l.LoadFile(filepath.Join(root, "manual.pdf"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestToHitDecodesFields(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}
	hit := meili.Hit{
		"id":            raw("abc-0"),
		"content":       raw("Install with make"),
		"source":        raw("/kb/docs/en/setup.md"),
		"kind":          raw("doc"),
		"file_name":     raw("setup.md"),
		"_rankingScore": raw(0.82),
		"metadata":      raw(map[string]any{"file_type": ".md", "source": "ignored"}),
	}
	h := toHit(hit)
	assert.Equal(t, "Install with make", h.Content)
	assert.InDelta(t, 0.82, h.Score, 1e-9)
	assert.Equal(t, "/kb/docs/en/setup.md", h.Metadata["source"])
	assert.Equal(t, ".md", h.Metadata["file_type"])
	assert.Equal(t, "setup.md", h.Metadata["file_name"])
}

func TestServiceWithoutBackend(t *testing.T) {
	s := NewService(nil, zap.NewNop())
	assert.False(t, s.Healthy())
	hits, err := s.Retrieve(context.Background(), "anything", 3)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}
