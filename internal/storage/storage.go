// Package storage is the durable record store underneath every repository.
//
// A Store holds one homogeneous collection of records keyed by their "id"
// field. Reads are served under a shared lock and writes under an exclusive
// lock, each scoped to a single call.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicateID   = errors.New("duplicate record id")
	ErrConflict      = errors.New("record version conflict")
	ErrCorrupt       = errors.New("collection data is corrupt")
	ErrInvalidRecord = errors.New("invalid record")
)

// Store-managed fields.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldVersion   = "version"
)

// Record is one stored entity as a field map. Numbers decode as json.Number.
type Record map[string]any

func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// Version returns the optimistic concurrency counter, 0 when absent.
func (r Record) Version() int64 {
	switch v := r[FieldVersion].(type) {
	case json.Number:
		n, _ := v.Int64()
		return n
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

type Store interface {
	// GetAll never fails on unreadable data; it logs and returns nothing.
	GetAll(ctx context.Context) ([]Record, error)
	GetByID(ctx context.Context, id string) (Record, error)
	Add(ctx context.Context, rec Record) (Record, error)
	// Update merges fields into the stored record. A positive
	// expectedVersion must match the stored version or ErrConflict is
	// returned and nothing is written.
	Update(ctx context.Context, id string, fields Record, expectedVersion int64) (Record, error)
	Delete(ctx context.Context, id string) (bool, error)
	// Query returns records matching every filter exactly. No filters
	// returns everything.
	Query(ctx context.Context, filters Record) ([]Record, error)
}

// ConflictError carries both sides of a failed version check.
type ConflictError struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record %s: expected version %d, found %d", e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeRecord(raw []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeRecords(raw []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var recs []Record
	if err := dec.Decode(&recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// normalize gives v the shape it would have after a JSON round trip so that
// filters built from typed Go values compare equal to decoded records.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeFilters(filters Record) (Record, error) {
	out := make(Record, len(filters))
	for k, v := range filters {
		n, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("normalize filter %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func matches(rec, filters Record) bool {
	for k, want := range filters {
		got, ok := rec[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// prepareNew fills the store-managed fields of a record being added.
func prepareNew(rec Record, now time.Time) (Record, error) {
	if rec.ID() == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	out, err := cloneRecord(rec)
	if err != nil {
		return nil, err
	}
	ts := timestamp(now)
	if created, _ := out[FieldCreatedAt].(string); created == "" {
		out[FieldCreatedAt] = ts
	}
	if updated, _ := out[FieldUpdatedAt].(string); updated == "" {
		out[FieldUpdatedAt] = ts
	}
	out[FieldVersion] = json.Number("1")
	return out, nil
}

// merge applies fields to current and bumps updated_at and version. The
// identity fields of current are kept.
func merge(current, fields Record, expectedVersion int64, now time.Time) (Record, error) {
	actual := current.Version()
	if expectedVersion > 0 && expectedVersion != actual {
		return nil, &ConflictError{ID: current.ID(), Expected: expectedVersion, Actual: actual}
	}
	norm, err := normalizeFilters(fields)
	if err != nil {
		return nil, err
	}
	out := make(Record, len(current)+len(norm))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range norm {
		switch k {
		case FieldID, FieldCreatedAt, FieldVersion:
			continue
		}
		out[k] = v
	}
	out[FieldUpdatedAt] = timestamp(now)
	out[FieldVersion] = json.Number(fmt.Sprint(actual + 1))
	return out, nil
}

func cloneRecord(rec Record) (Record, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return decodeRecord(raw)
}
