// Package repository provides typed access to the entity collections.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/storage"
)

// Entity is implemented by every persisted model.
type Entity interface {
	EntityID() string
	EntityVersion() int64
}

// maxModifyAttempts bounds the re-read loop Modify runs on version conflicts.
const maxModifyAttempts = 3

// Collection maps one storage.Store to values of type T.
type Collection[T Entity] struct {
	store  storage.Store
	logger *zap.Logger
}

func NewCollection[T Entity](store storage.Store, logger *zap.Logger) *Collection[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collection[T]{store: store, logger: logger}
}

func (c *Collection[T]) Add(ctx context.Context, entity T) (T, error) {
	rec, err := toRecord(entity)
	if err != nil {
		var zero T
		return zero, err
	}
	stored, err := c.store.Add(ctx, rec)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("add %s: %w", entity.EntityID(), err)
	}
	return fromRecord[T](stored)
}

// Get returns storage.ErrNotFound (wrapped) for unknown ids.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	rec, err := c.store.GetByID(ctx, id)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("get %s: %w", id, err)
	}
	return fromRecord[T](rec)
}

func (c *Collection[T]) GetAll(ctx context.Context) ([]T, error) {
	recs, err := c.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(recs), nil
}

// Find returns the entities whose fields equal every filter value.
func (c *Collection[T]) Find(ctx context.Context, filters storage.Record) ([]T, error) {
	recs, err := c.store.Query(ctx, filters)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(recs), nil
}

// Update persists entity, failing with storage.ErrConflict when the stored
// version moved on since entity was read.
func (c *Collection[T]) Update(ctx context.Context, entity T) (T, error) {
	rec, err := toRecord(entity)
	if err != nil {
		var zero T
		return zero, err
	}
	stored, err := c.store.Update(ctx, entity.EntityID(), rec, entity.EntityVersion())
	if err != nil {
		var zero T
		return zero, fmt.Errorf("update %s: %w", entity.EntityID(), err)
	}
	return fromRecord[T](stored)
}

// Modify loads id, applies fn and writes the result. When expectedVersion is
// zero a conflicting concurrent write causes fn to be re-applied to the fresh
// record; otherwise the caller's version must match exactly.
func (c *Collection[T]) Modify(ctx context.Context, id string, expectedVersion int64, fn func(*T) error) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		entity, err := c.Get(ctx, id)
		if err != nil {
			return zero, err
		}
		if expectedVersion > 0 && entity.EntityVersion() != expectedVersion {
			return zero, fmt.Errorf("update %s: %w", id, &storage.ConflictError{
				ID: id, Expected: expectedVersion, Actual: entity.EntityVersion(),
			})
		}
		if err := fn(&entity); err != nil {
			return zero, err
		}
		updated, err := c.Update(ctx, entity)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, storage.ErrConflict) || expectedVersion > 0 || attempt >= maxModifyAttempts {
			return zero, err
		}
		c.logger.Debug("version conflict, retrying", zap.String("id", id), zap.Int("attempt", attempt))
	}
}

func (c *Collection[T]) Delete(ctx context.Context, id string) (bool, error) {
	return c.store.Delete(ctx, id)
}

func (c *Collection[T]) Count(ctx context.Context) (int, error) {
	recs, err := c.store.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (c *Collection[T]) decodeAll(recs []storage.Record) []T {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		entity, err := fromRecord[T](rec)
		if err != nil {
			c.logger.Error("skipping undecodable record", zap.String("id", rec.ID()), zap.Error(err))
			continue
		}
		out = append(out, entity)
	}
	return out
}

func toRecord[T any](entity T) (storage.Record, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	var rec storage.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	return rec, nil
}

func fromRecord[T any](rec storage.Record) (T, error) {
	var out T
	raw, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("decode record %s: %w", rec.ID(), err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode record %s: %w", rec.ID(), err)
	}
	return out, nil
}
