package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "drafts.json"), "drafts", zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestFileStoreInitializesDocument(t *testing.T) {
	s := newTestFileStore(t)

	raw, err := os.ReadFile(s.path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.JSONEq(t, `[]`, string(doc["drafts"]))

	var meta fileMetadata
	require.NoError(t, json.Unmarshal(doc["metadata"], &meta))
	assert.Equal(t, 1, meta.Version)
	assert.NotEmpty(t, meta.CreatedAt)
	assert.NotEmpty(t, meta.LastUpdated)
}

func TestFileStoreAddThenGet(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	in := Record{"id": "DRAFT-00000001", "status": "pending", "votes": 3, "tags": []string{"a", "b"}}
	added, err := s.Add(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(1), added.Version())

	got, err := s.GetByID(ctx, "DRAFT-00000001")
	require.NoError(t, err)
	assert.Equal(t, added, got)
	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, json.Number("3"), got["votes"])

	_, err = s.Add(ctx, Record{"id": "DRAFT-00000001"})
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = s.Add(ctx, Record{"status": "pending"})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = s.GetByID(ctx, "DRAFT-FFFFFFFF")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreUpdateMergesAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := s.Add(ctx, Record{"id": "A", "status": "pending", "content": "x"})
	require.NoError(t, err)
	s.now = func() time.Time { return fixed }

	updated, err := s.Update(ctx, "A", Record{"status": "approved", "id": "B", "version": 99}, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", updated.ID())
	assert.Equal(t, "approved", updated["status"])
	assert.Equal(t, "x", updated["content"])
	assert.Equal(t, int64(2), updated.Version())
	assert.Equal(t, "2026-01-02T03:04:05Z", updated[FieldUpdatedAt])

	_, err = s.Update(ctx, "missing", Record{"status": "x"}, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreUpdateRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	_, err := s.Add(ctx, Record{"id": "A", "status": "pending"})
	require.NoError(t, err)

	_, err = s.Update(ctx, "A", Record{"status": "approved"}, 1)
	require.NoError(t, err)

	_, err = s.Update(ctx, "A", Record{"status": "rejected"}, 1)
	require.ErrorIs(t, err, ErrConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(2), conflict.Actual)

	got, err := s.GetByID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "approved", got["status"], "stale write must not land")

	// zero skips the check (last writer wins)
	_, err = s.Update(ctx, "A", Record{"status": "rejected"}, 0)
	require.NoError(t, err)
}

func TestFileStoreQueryAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	for i, status := range []string{"pending", "approved", "pending"} {
		_, err := s.Add(ctx, Record{"id": fmt.Sprintf("R%d", i), "status": status, "user_email": "u@example.com", "votes": i})
		require.NoError(t, err)
	}

	all, err := s.Query(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := s.Query(ctx, Record{"status": "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "R0", pending[0].ID())
	assert.Equal(t, "R2", pending[1].ID())

	both, err := s.Query(ctx, Record{"status": "pending", "votes": 2})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "R2", both[0].ID())

	none, err := s.Query(ctx, Record{"status": "pending", "user_email": "other@example.com"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.Add(ctx, Record{"id": "R3", "status": "pending", "tags": []string{"x", "y"}})
	require.NoError(t, err)
	subset, err := s.Query(ctx, Record{"tags": []string{"x"}})
	require.NoError(t, err)
	assert.Empty(t, subset)
	exact, err := s.Query(ctx, Record{"tags": []string{"x", "y"}})
	require.NoError(t, err)
	assert.Len(t, exact, 1)

	ok, err := s.Delete(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "R1")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFileStoreCorruptDataFailsSoft(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.ErrorLevel)
	path := filepath.Join(t.TempDir(), "queue.json")
	s, err := NewFileStore(path, "questions", zap.New(core))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	items, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, logs.Len())

	_, err = s.GetByID(ctx, "anything")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Add(ctx, Record{"id": "Q-1"})
	assert.ErrorIs(t, err, ErrCorrupt)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw), "corrupt file must be left untouched")
}

func TestFileStoreConcurrentWritersDoNotLoseRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	var wg sync.WaitGroup
	const writers = 20
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Add(ctx, Record{"id": fmt.Sprintf("C%02d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, writers)
}

func TestFileStoreSeparateInstancesShareFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "features.json")
	a, err := NewFileStore(path, "features", nil)
	require.NoError(t, err)
	b, err := NewFileStore(path, "features", nil)
	require.NoError(t, err)

	_, err = a.Add(ctx, Record{"id": "FEAT-1"})
	require.NoError(t, err)
	_, err = b.Add(ctx, Record{"id": "FEAT-2"})
	require.NoError(t, err)

	all, err := a.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
