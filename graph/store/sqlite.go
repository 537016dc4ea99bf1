package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	key          TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	payload      BLOB NOT NULL,
	saved_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_execution
	ON checkpoints (execution_id, key);
`

// SQLiteStore persists checkpoints in a SQLite database via the pure-Go
// modernc driver. Use ":memory:" as the DSN for an ephemeral store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %q: %w", dsn, err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent checkpoints
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put implements CheckpointStore.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (key, execution_id, payload, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		rec.Key, rec.ExecutionID, rec.Payload, rec.SavedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: put %s: %w", rec.Key, err)
	}
	return nil
}

// Get implements CheckpointStore.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, execution_id, payload, saved_at FROM checkpoints WHERE key = ?`, key)
	return scanRecord(row, key)
}

// List implements CheckpointStore.
func (s *SQLiteStore) List(ctx context.Context, executionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, execution_id, payload, saved_at FROM checkpoints
		WHERE execution_id = ? ORDER BY key ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", executionID, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Delete implements CheckpointStore.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// Close implements CheckpointStore.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, key string) (Record, error) {
	var rec Record
	var savedAt int64
	err := row.Scan(&rec.Key, &rec.ExecutionID, &rec.Payload, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get %s: %w", key, err)
	}
	rec.SavedAt = time.Unix(0, savedAt).UTC()
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		var savedAt int64
		if err := rows.Scan(&rec.Key, &rec.ExecutionID, &rec.Payload, &savedAt); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		rec.SavedAt = time.Unix(0, savedAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
