package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/events"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/search"
)

const (
	DefaultDebounce = 2 * time.Second
	flushTimeout    = time.Minute
)

type IndexConfig struct {
	// DocsRoot is walked by the full reindex.
	DocsRoot         string
	ReindexOnStartup bool
	Debounce         time.Duration
}

// Index keeps the search index in step with the knowledge base. Draft and
// question text is indexed inline; file changes are batched and applied once
// the debounce window passes without further changes.
type Index struct {
	index  search.Index
	loader *search.Loader
	cfg    IndexConfig
	logger *zap.Logger

	initMu      sync.Mutex
	initialized bool

	mu      sync.Mutex
	updates map[string]struct{}
	deletes map[string]struct{}
	timer   *time.Timer
	closed  bool
}

func NewIndex(index search.Index, loader *search.Loader, cfg IndexConfig, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader == nil {
		loader = search.NewLoader(logger)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Index{
		index:   index,
		loader:  loader,
		cfg:     cfg,
		logger:  logger.Named("index"),
		updates: make(map[string]struct{}),
		deletes: make(map[string]struct{}),
	}
}

func (x *Index) Name() string { return "index" }

// EnsureInitialized runs the startup reindex once: always when the index is
// empty, otherwise only when ReindexOnStartup is set. A failed attempt is
// retried on the next call.
func (x *Index) EnsureInitialized(ctx context.Context) error {
	x.initMu.Lock()
	defer x.initMu.Unlock()
	if x.initialized {
		return nil
	}
	if !x.index.Healthy() {
		return search.ErrUnavailable
	}

	count, err := x.index.Count(ctx)
	if err != nil {
		return fmt.Errorf("count indexed documents: %w", err)
	}
	switch {
	case count == 0:
		x.logger.Info("index empty, performing initial index")
		if err := x.Reindex(ctx, true); err != nil {
			return err
		}
	case x.cfg.ReindexOnStartup:
		x.logger.Info("reindexing on startup", zap.Int64("documents", count))
		if err := x.Reindex(ctx, false); err != nil {
			return err
		}
	default:
		x.logger.Info("index already populated", zap.Int64("documents", count))
	}
	x.initialized = true
	return nil
}

// Reindex loads every markdown file under the docs root, optionally clearing
// the index first.
func (x *Index) Reindex(ctx context.Context, reset bool) error {
	if reset {
		if err := x.index.Reset(ctx); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
	}
	docs, err := x.loader.LoadDirectory(x.cfg.DocsRoot)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		x.logger.Warn("no documents found for indexing", zap.String("path", x.cfg.DocsRoot))
		return nil
	}
	if err := x.index.Upsert(ctx, docs); err != nil {
		return fmt.Errorf("index documents: %w", err)
	}
	x.logger.Info("full reindex completed", zap.Int("chunks", len(docs)))
	return nil
}

func (x *Index) Handle(ctx context.Context, e events.Event) error {
	if err := x.EnsureInitialized(ctx); err != nil {
		if errors.Is(err, search.ErrUnavailable) {
			return fmt.Errorf("%w: %v", events.ErrSkipped, err)
		}
		return err
	}

	if e.Type == events.DocDeleted {
		if e.FilePath == "" {
			return events.ErrSkipped
		}
		x.schedule(e.FilePath, true)
		return nil
	}

	acted := false
	if e.DraftContent != "" {
		status := "pending"
		if e.Type == events.DraftApproved {
			status = "approved"
		}
		err := x.indexText(ctx, e.DraftContent, "draft:"+e.DraftID, search.KindDraft, map[string]any{
			"draft_id":       e.DraftID,
			"target_section": e.TargetSection,
			"status":         status,
		})
		if err != nil {
			return err
		}
		acted = true
	}
	if e.QuestionText != "" {
		content := "Q: " + e.QuestionText
		if e.AnswerText != "" {
			content += "\n\nA: " + e.AnswerText
		}
		status := "pending"
		if e.Type == events.QuestionAnswered {
			status = "answered"
		}
		err := x.indexText(ctx, content, "qa:"+e.QuestionID, search.KindQA, map[string]any{
			"question_id": e.QuestionID,
			"status":      status,
		})
		if err != nil {
			return err
		}
		acted = true
	}
	if e.FilePath != "" && search.Supported(e.FilePath) {
		x.schedule(e.FilePath, false)
		acted = true
	}
	if !acted {
		return events.ErrSkipped
	}
	return nil
}

func (x *Index) indexText(ctx context.Context, text, source, kind string, metadata map[string]any) error {
	docs := x.loader.LoadText(text, source, kind, metadata)
	if err := x.index.DeleteSource(ctx, source); err != nil {
		return fmt.Errorf("clear %s: %w", source, err)
	}
	if len(docs) == 0 {
		return nil
	}
	if err := x.index.Upsert(ctx, docs); err != nil {
		return fmt.Errorf("index %s: %w", source, err)
	}
	x.logger.Info("content indexed", zap.String("source", source), zap.Int("chunks", len(docs)))
	return nil
}

// schedule queues a file and restarts the debounce window.
func (x *Index) schedule(path string, remove bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return
	}
	if remove {
		delete(x.updates, path)
		x.deletes[path] = struct{}{}
	} else {
		delete(x.deletes, path)
		x.updates[path] = struct{}{}
	}
	if x.timer != nil {
		x.timer.Stop()
	}
	x.timer = time.AfterFunc(x.cfg.Debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		x.Flush(ctx)
	})
}

// Pending reports how many files wait for the debounce window.
func (x *Index) Pending() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.updates) + len(x.deletes)
}

// Flush applies queued deletions, then queued updates, immediately.
func (x *Index) Flush(ctx context.Context) {
	x.mu.Lock()
	updates, deletes := x.updates, x.deletes
	x.updates = make(map[string]struct{})
	x.deletes = make(map[string]struct{})
	if x.timer != nil {
		x.timer.Stop()
		x.timer = nil
	}
	x.mu.Unlock()

	for path := range deletes {
		if err := x.index.DeleteSource(ctx, path); err != nil {
			x.logger.Error("file removal failed", zap.String("path", path), zap.Error(err))
			continue
		}
		x.logger.Info("file removed from index", zap.String("path", path))
	}
	for path := range updates {
		x.indexFile(ctx, path)
	}
}

func (x *Index) indexFile(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		x.logger.Warn("file not found, skipping index", zap.String("path", path))
		return
	}
	docs, err := x.loader.LoadFile(path)
	if err != nil {
		x.logger.Warn("file not indexed", zap.String("path", path), zap.Error(err))
		return
	}
	if err := x.index.DeleteSource(ctx, path); err != nil {
		x.logger.Error("file removal failed", zap.String("path", path), zap.Error(err))
		return
	}
	if len(docs) == 0 {
		return
	}
	if err := x.index.Upsert(ctx, docs); err != nil {
		x.logger.Error("file indexing failed", zap.String("path", path), zap.Error(err))
		return
	}
	x.logger.Info("file indexed", zap.String("path", path), zap.Int("chunks", len(docs)))
}

// Close flushes whatever is queued and stops accepting new work.
func (x *Index) Close(ctx context.Context) {
	x.mu.Lock()
	x.closed = true
	x.mu.Unlock()
	x.Flush(ctx)
}
