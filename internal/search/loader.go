package search

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var ErrUnsupported = errors.New("unsupported file type")

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Extensions lists the file types the re-indexer reacts to.
var Extensions = []string{".md", ".txt", ".pdf"}

func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Loader reads files and splits them into overlapping chunks.
type Loader struct {
	ChunkSize    int
	ChunkOverlap int
	logger       *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap, logger: logger.Named("loader")}
}

// LoadFile chunks a text or markdown file. PDFs are recognised but have no
// text extractor and return ErrUnsupported.
func (l *Loader) LoadFile(path string) ([]Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".md" && ext != ".txt" {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	docs := l.LoadText(string(data), path, KindDoc, map[string]any{"file_type": ext})
	for i := range docs {
		docs[i].FileName = filepath.Base(path)
	}
	return docs, nil
}

// LoadText chunks text under the given source. Blank text yields no chunks.
func (l *Loader) LoadText(text, source, kind string, metadata map[string]any) []Document {
	chunks := l.split(text)
	docs := make([]Document, 0, len(chunks))
	for i, chunk := range chunks {
		meta := make(map[string]any, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
		docs = append(docs, Document{
			ID:          chunkID(source, i),
			Source:      source,
			Kind:        kind,
			Content:     chunk,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
			Metadata:    meta,
		})
	}
	return docs
}

// LoadDirectory chunks every markdown file under root, skipping hidden files.
// Unreadable files are logged and skipped.
func (l *Loader) LoadDirectory(root string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || strings.ToLower(filepath.Ext(path)) != ".md" {
			return nil
		}
		chunks, err := l.LoadFile(path)
		if err != nil {
			l.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		docs = append(docs, chunks...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return docs, nil
}

// split packs paragraphs into chunks of at most ChunkSize runes. Each chunk
// after the first starts with the last ChunkOverlap runes of its predecessor.
func (l *Loader) split(text string) []string {
	size, overlap := l.ChunkSize, l.ChunkOverlap
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		r := []rune(para)
		for len(r) > size {
			pieces = append(pieces, string(r[:size]))
			r = r[size:]
		}
		pieces = append(pieces, string(r))
	}

	var chunks []string
	var current []rune
	for _, piece := range pieces {
		p := []rune(piece)
		sep := 0
		if len(current) > 0 {
			sep = 2
		}
		if len(current) > 0 && len(current)+sep+len(p) > size {
			chunks = append(chunks, string(current))
			tail := current
			if len(tail) > overlap {
				tail = tail[len(tail)-overlap:]
			}
			current = append([]rune(nil), tail...)
			if len(current)+2+len(p) > size {
				current = nil
			}
		}
		if len(current) > 0 {
			current = append(current, '\n', '\n')
		}
		current = append(current, p...)
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}
