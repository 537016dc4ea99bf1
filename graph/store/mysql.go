package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	` + "`key`" + `       VARCHAR(191) PRIMARY KEY,
	execution_id VARCHAR(191) NOT NULL,
	payload      LONGBLOB NOT NULL,
	saved_at     BIGINT NOT NULL,
	INDEX idx_checkpoints_execution (execution_id, ` + "`key`" + `)
)`

// MySQLStore persists checkpoints in MySQL.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens (and migrates) the database at dsn, e.g.
// "user:pass@tcp(localhost:3306)/flowgrid?parseTime=true".
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}
	if _, err := db.Exec(mysqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate mysql: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

// Put implements CheckpointStore.
func (s *MySQLStore) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO checkpoints (`key`, execution_id, payload, saved_at) "+
		"VALUES (?, ?, ?, ?) ON DUPLICATE KEY UPDATE payload = VALUES(payload), saved_at = VALUES(saved_at)",
		rec.Key, rec.ExecutionID, rec.Payload, rec.SavedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: put %s: %w", rec.Key, err)
	}
	return nil
}

// Get implements CheckpointStore.
func (s *MySQLStore) Get(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT `key`, execution_id, payload, saved_at FROM checkpoints WHERE `key` = ?", key)
	return scanRecord(row, key)
}

// List implements CheckpointStore.
func (s *MySQLStore) List(ctx context.Context, executionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT `key`, execution_id, payload, saved_at FROM checkpoints "+
			"WHERE execution_id = ? ORDER BY `key` ASC", executionID)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", executionID, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Delete implements CheckpointStore.
func (s *MySQLStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE `key` = ?", key)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// Close implements CheckpointStore.
func (s *MySQLStore) Close() error { return s.db.Close() }
