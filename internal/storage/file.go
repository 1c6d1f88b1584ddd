package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const lockRetryDelay = 10 * time.Millisecond

type fileMetadata struct {
	CreatedAt   string `json:"created_at"`
	LastUpdated string `json:"last_updated"`
	Version     int    `json:"version"`
}

// FileStore keeps a collection in a single JSON file:
//
//	{"<collection>": [...], "metadata": {"created_at", "last_updated", "version"}}
//
// Cross-process exclusion uses an advisory flock on a sibling .lock file;
// goroutines of this process also serialize on an RWMutex.
type FileStore struct {
	path       string
	lockPath   string
	collection string
	logger     *zap.Logger
	now        func() time.Time
	mu         sync.RWMutex
}

func NewFileStore(path, collection string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	s := &FileStore{
		path:       path,
		lockPath:   path + ".lock",
		collection: collection,
		logger:     logger.Named("store").With(zap.String("collection", collection)),
		now:        time.Now,
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		ts := timestamp(s.now())
		if err := s.write(nil, fileMetadata{CreatedAt: ts, LastUpdated: ts, Version: 1}); err != nil {
			return nil, fmt.Errorf("initialize %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) GetAll(ctx context.Context) ([]Record, error) {
	items, err := s.readShared(ctx)
	if err != nil {
		s.logger.Error("read collection failed, returning empty", zap.String("path", s.path), zap.Error(err))
		return []Record{}, nil
	}
	return items, nil
}

func (s *FileStore) GetByID(ctx context.Context, id string) (Record, error) {
	items, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range items {
		if rec.ID() == id {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) Query(ctx context.Context, filters Record) ([]Record, error) {
	norm, err := normalizeFilters(filters)
	if err != nil {
		return nil, err
	}
	items, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(items))
	for _, rec := range items {
		if matches(rec, norm) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *FileStore) Add(ctx context.Context, rec Record) (Record, error) {
	stored, err := prepareNew(rec, s.now())
	if err != nil {
		return nil, err
	}
	err = s.mutate(ctx, func(items []Record) ([]Record, error) {
		for _, existing := range items {
			if existing.ID() == stored.ID() {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateID, stored.ID())
			}
		}
		return append(items, stored), nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *FileStore) Update(ctx context.Context, id string, fields Record, expectedVersion int64) (Record, error) {
	var updated Record
	err := s.mutate(ctx, func(items []Record) ([]Record, error) {
		for i, existing := range items {
			if existing.ID() != id {
				continue
			}
			next, err := merge(existing, fields, expectedVersion, s.now())
			if err != nil {
				return nil, err
			}
			items[i] = next
			updated = next
			return items, nil
		}
		return nil, ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) (bool, error) {
	err := s.mutate(ctx, func(items []Record) ([]Record, error) {
		for i, existing := range items {
			if existing.ID() == id {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, ErrNotFound
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) readShared(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fl := flock.New(s.lockPath)
	locked, err := fl.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquire shared lock: %w", err)
	}
	if locked {
		defer fl.Unlock()
	}
	items, _, err := s.read()
	return items, err
}

// mutate runs fn on the current items under the exclusive lock and persists
// the result. A corrupt file is never overwritten.
func (s *FileStore) mutate(ctx context.Context, fn func([]Record) ([]Record, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fl := flock.New(s.lockPath)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire exclusive lock: %w", err)
	}
	if locked {
		defer fl.Unlock()
	}

	items, meta, err := s.read()
	if err != nil {
		return err
	}
	items, err = fn(items)
	if err != nil {
		return err
	}
	meta.LastUpdated = timestamp(s.now())
	if meta.CreatedAt == "" {
		meta.CreatedAt = meta.LastUpdated
	}
	if meta.Version == 0 {
		meta.Version = 1
	}
	return s.write(items, meta)
}

func (s *FileStore) read() ([]Record, fileMetadata, error) {
	var meta fileMetadata
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, meta, nil
	}
	if err != nil {
		return nil, meta, fmt.Errorf("read %s: %w", s.path, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, meta, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	items := []Record{}
	if body, ok := doc[s.collection]; ok && string(body) != "null" {
		items, err = decodeRecords(body)
		if err != nil {
			return nil, meta, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	if body, ok := doc["metadata"]; ok {
		_ = json.Unmarshal(body, &meta)
	}
	return items, meta, nil
}

func (s *FileStore) write(items []Record, meta fileMetadata) error {
	if items == nil {
		items = []Record{}
	}
	payload, err := json.MarshalIndent(map[string]any{
		s.collection: items,
		"metadata":   meta,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
