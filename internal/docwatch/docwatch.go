// Package docwatch turns file system changes under the documentation tree
// into doc.created, doc.updated and doc.deleted events.
package docwatch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/events"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/search"
)

const DefaultDebounce = 500 * time.Millisecond

// Emitter is implemented by *events.Bus.
type Emitter interface {
	Emit(ctx context.Context, e events.Event) []events.HandlerResult
}

// Watcher watches a directory tree recursively. Bursts of changes to the same
// file are coalesced into one event per file.
type Watcher struct {
	root     string
	emitter  Emitter
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]events.EventType
}

func New(root string, emitter Emitter, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		root:     root,
		emitter:  emitter,
		watcher:  fw,
		debounce: DefaultDebounce,
		logger:   logger.Named("docwatch"),
		pending:  make(map[string]events.EventType),
	}, nil
}

// Run watches until ctx is cancelled. The underlying watcher is closed on
// return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching documentation", zap.String("root", w.root))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.observe(ev) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		case <-timer.C:
			w.flush(ctx)
		case <-ctx.Done():
			w.logger.Info("stopping documentation watcher")
			return nil
		}
	}
}

func (w *Watcher) addTree(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if hidden(d.Name()) && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	return nil
}

// observe records a change and reports whether it is relevant.
func (w *Watcher) observe(ev fsnotify.Event) bool {
	if hidden(filepath.Base(ev.Name)) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("could not watch new directory", zap.String("path", ev.Name), zap.Error(err))
			}
			return false
		}
	}
	if !search.Supported(ev.Name) {
		return false
	}

	var t events.EventType
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		t = events.DocDeleted
	case ev.Has(fsnotify.Create):
		t = events.DocCreated
	case ev.Has(fsnotify.Write):
		t = events.DocUpdated
	default:
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.pending[ev.Name]; ok && prev == events.DocCreated && t == events.DocUpdated {
		return true
	}
	w.pending[ev.Name] = t
	return true
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]events.EventType)
	w.mu.Unlock()

	for path, t := range batch {
		e := events.New(t, "docwatch")
		e.FilePath = path
		w.logger.Debug("documentation changed", zap.String("path", path), zap.String("event_type", t.String()))
		w.emitter.Emit(ctx, e)
	}
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}
