package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PostgresStore keeps every collection in the entity_records table, one JSONB
// body per record. Writes serialize per collection on a transaction-scoped
// advisory lock; reads run without it against a consistent snapshot.
type PostgresStore struct {
	db         *sql.DB
	collection string
	logger     *zap.Logger
	now        func() time.Time
}

func NewPostgresStore(db *sql.DB, collection string, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		db:         db,
		collection: collection,
		logger:     logger.Named("store").With(zap.String("collection", collection), zap.String("backend", "postgres")),
		now:        time.Now,
	}
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]Record, error) {
	items, err := s.selectRecords(ctx, `SELECT body FROM entity_records WHERE collection = $1 ORDER BY position`, s.collection)
	if err != nil {
		s.logger.Error("read collection failed, returning empty", zap.Error(err))
		return []Record{}, nil
	}
	return items, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Record, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM entity_records WHERE collection = $1 AND id = $2`, s.collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select record %s: %w", id, err)
	}
	return decodeRecord(body)
}

// Query narrows rows with JSONB containment, then applies the same exact
// match as FileStore.
func (s *PostgresStore) Query(ctx context.Context, filters Record) ([]Record, error) {
	if len(filters) == 0 {
		return s.GetAll(ctx)
	}
	norm, err := normalizeFilters(filters)
	if err != nil {
		return nil, err
	}
	containment, err := json.Marshal(norm)
	if err != nil {
		return nil, fmt.Errorf("encode filters: %w", err)
	}
	items, err := s.selectRecords(ctx,
		`SELECT body FROM entity_records WHERE collection = $1 AND body @> $2::jsonb ORDER BY position`,
		s.collection, string(containment))
	if err != nil {
		return nil, err
	}
	// containment also accepts array supersets; keep the exact-match contract
	out := items[:0]
	for _, rec := range items {
		if matches(rec, norm) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *PostgresStore) Add(ctx context.Context, rec Record) (Record, error) {
	stored, err := prepareNew(rec, s.now())
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	err = s.withWriteLock(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO entity_records (collection, id, body, version) VALUES ($1, $2, $3::jsonb, 1)
			 ON CONFLICT (collection, id) DO NOTHING`,
			s.collection, stored.ID(), string(body))
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateID, stored.ID())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, fields Record, expectedVersion int64) (Record, error) {
	var updated Record
	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		var body []byte
		err := tx.QueryRowContext(ctx,
			`SELECT body FROM entity_records WHERE collection = $1 AND id = $2 FOR UPDATE`, s.collection, id,
		).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("select record %s: %w", id, err)
		}
		current, err := decodeRecord(body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		next, err := merge(current, fields, expectedVersion, s.now())
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE entity_records SET body = $3::jsonb, version = $4 WHERE collection = $1 AND id = $2`,
			s.collection, id, string(encoded), next.Version(),
		); err != nil {
			return fmt.Errorf("update record %s: %w", id, err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM entity_records WHERE collection = $1 AND id = $2`, s.collection, id)
		if err != nil {
			return fmt.Errorf("delete record %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	return deleted, err
}

func (s *PostgresStore) withWriteLock(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.collection); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("acquire collection lock: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) selectRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	items := []Record{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return items, nil
}
