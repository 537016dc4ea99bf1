package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	key          TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	payload      BYTEA NOT NULL,
	saved_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_execution
	ON checkpoints (execution_id, key);
`

// pgQuerier is the subset of pgxpool.Pool the store needs; pgxmock
// satisfies it in tests.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

type pgconnCommandTag interface {
	RowsAffected() int64
}

// poolAdapter narrows *pgxpool.Pool to pgQuerier.
type poolAdapter struct {
	pool *pgxpool.Pool
}

func (a poolAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := a.pool.Exec(ctx, sql, args...)
	return tag, err
}

func (a poolAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.pool.QueryRow(ctx, sql, args...)
}

func (a poolAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return a.pool.Query(ctx, sql, args...)
}

func (a poolAdapter) Close() { a.pool.Close() }

// PostgresStore persists checkpoints in PostgreSQL over a pgx pool.
type PostgresStore struct {
	q pgQuerier
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	s := &PostgresStore{q: poolAdapter{pool: pool}}
	if _, err := s.q.Exec(ctx, postgresSchema); err != nil {
		s.q.Close()
		return nil, fmt.Errorf("store: migrate postgres: %w", err)
	}
	return s, nil
}

// Put implements CheckpointStore.
func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO checkpoints (key, execution_id, payload, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`,
		rec.Key, rec.ExecutionID, rec.Payload, rec.SavedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: put %s: %w", rec.Key, err)
	}
	return nil
}

// Get implements CheckpointStore.
func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	var rec Record
	var savedAt time.Time
	err := s.q.QueryRow(ctx, `
		SELECT key, execution_id, payload, saved_at FROM checkpoints WHERE key = $1`, key).
		Scan(&rec.Key, &rec.ExecutionID, &rec.Payload, &savedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get %s: %w", key, err)
	}
	rec.SavedAt = savedAt.UTC()
	return rec, nil
}

// List implements CheckpointStore.
func (s *PostgresStore) List(ctx context.Context, executionID string) ([]Record, error) {
	rows, err := s.q.Query(ctx, `
		SELECT key, execution_id, payload, saved_at FROM checkpoints
		WHERE execution_id = $1 ORDER BY key ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", executionID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var savedAt time.Time
		if err := rows.Scan(&rec.Key, &rec.ExecutionID, &rec.Payload, &savedAt); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		rec.SavedAt = savedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete implements CheckpointStore.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM checkpoints WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// Close implements CheckpointStore.
func (s *PostgresStore) Close() error {
	s.q.Close()
	return nil
}
