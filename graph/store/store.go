// Package store defines the checkpoint persistence contract and its
// backends: in-memory, SQLite, MySQL, PostgreSQL, and Redis.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for a key.
var ErrNotFound = errors.New("store: checkpoint not found")

// Record is one persisted checkpoint blob with its listing metadata.
type Record struct {
	// Key is unique per checkpoint and sorts chronologically within an
	// execution (ULID-based keys from the checkpoint manager).
	Key string

	// ExecutionID groups all checkpoints of one execution.
	ExecutionID string

	// Payload is the opaque serialized checkpoint.
	Payload []byte

	// SavedAt is when the checkpoint was written.
	SavedAt time.Time
}

// CheckpointStore persists checkpoint records. List returns an execution's
// records ordered by key ascending, so the last element is the newest.
type CheckpointStore interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, key string) (Record, error)
	List(ctx context.Context, executionID string) ([]Record, error)
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
