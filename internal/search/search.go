// Package search indexes knowledge base content and retrieves it for
// questions.
package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrUnavailable = errors.New("search backend unavailable")

// Hit is one retrieved chunk.
type Hit struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// Retriever returns the chunks most relevant to query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]Hit, error)
}

// Index is the write side used by the re-indexing handler.
type Index interface {
	Healthy() bool
	Count(ctx context.Context) (int64, error)
	Upsert(ctx context.Context, docs []Document) error
	DeleteSource(ctx context.Context, source string) error
	Reset(ctx context.Context) error
}

// Content kinds stored in the index.
const (
	KindDoc   = "doc"
	KindDraft = "draft"
	KindQA    = "qa"
)

// Document is one indexed chunk. Chunks of a source share the source field.
type Document struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Kind        string         `json:"kind"`
	Content     string         `json:"content"`
	FileName    string         `json:"file_name,omitempty"`
	ChunkIndex  int            `json:"chunk_index"`
	TotalChunks int            `json:"total_chunks"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// chunkID derives a stable, index-safe identifier from the source and chunk
// position.
func chunkID(source string, index int) string {
	sum := sha1.Sum([]byte(source))
	return fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:])[:16], index)
}
