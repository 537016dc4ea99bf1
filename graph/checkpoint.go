package graph

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/calyptra/flowgrid/graph/state"
	"github.com/calyptra/flowgrid/graph/store"
)

// CheckpointSchemaVersion is bumped when the payload layout changes.
const CheckpointSchemaVersion = 1

// ErrCheckpointSchema is returned when a restored payload has an
// unsupported schema version.
var ErrCheckpointSchema = errors.New("checkpoint schema version not supported")

// Checkpoint is the resumable snapshot of a running execution: the state
// plus enough scheduler context to continue from the node boundary it was
// taken at.
type Checkpoint struct {
	SchemaVersion     int            `msgpack:"schema_version"`
	ExecutionID       string         `msgpack:"execution_id"`
	GraphName         string         `msgpack:"graph_name"`
	CurrentNodeID     string         `msgpack:"current_node_id"`
	PendingSuccessors []string       `msgpack:"pending_successors"`
	AttemptCounters   map[string]int `msgpack:"attempt_counters"`
	Suspended         *Suspension    `msgpack:"suspended,omitempty"`
	TakenAt           time.Time      `msgpack:"taken_at"`

	// Label names an explicitly requested checkpoint; interval checkpoints
	// leave it empty.
	Label string `msgpack:"label,omitempty"`

	// State is the codec-serialized (optionally compressed) state blob.
	State []byte `msgpack:"state"`
}

// CheckpointManager writes and restores checkpoints through a store,
// generating chronologically sortable keys and pruning old records.
type CheckpointManager struct {
	mu      sync.Mutex
	store   store.CheckpointStore
	codec   *state.Codec
	entropy *ulid.MonotonicEntropy

	// KeepLast bounds how many checkpoints are retained per execution;
	// zero keeps everything.
	KeepLast int
}

// NewCheckpointManager creates a manager over the store. A nil codec gets
// compression-enabled defaults.
func NewCheckpointManager(st store.CheckpointStore, codec *state.Codec) *CheckpointManager {
	if codec == nil {
		codec = state.NewCodec(state.CodecOptions{Compress: true})
	}
	return &CheckpointManager{
		store:   st,
		codec:   codec,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// newKey builds a ULID-based key that sorts chronologically within the
// execution, monotonic even for checkpoints in the same millisecond.
func (m *CheckpointManager) newKey(executionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), m.entropy)
	if err != nil {
		return "", fmt.Errorf("checkpoint key: %w", err)
	}
	return executionID + "/" + id.String(), nil
}

// Save serializes and persists a checkpoint, returning its key. When
// KeepLast is set, older checkpoints past the cap are pruned.
func (m *CheckpointManager) Save(ctx context.Context, cp *Checkpoint, s *state.State) (string, int, error) {
	cp.SchemaVersion = CheckpointSchemaVersion
	cp.TakenAt = time.Now().UTC()

	blob, err := m.codec.Marshal(s)
	if err != nil {
		return "", 0, fmt.Errorf("checkpoint state: %w", err)
	}
	cp.State = blob

	payload, err := msgpack.Marshal(cp)
	if err != nil {
		return "", 0, fmt.Errorf("checkpoint encode: %w", err)
	}
	key, err := m.newKey(cp.ExecutionID)
	if err != nil {
		return "", 0, err
	}
	rec := store.Record{
		Key:         key,
		ExecutionID: cp.ExecutionID,
		Payload:     payload,
		SavedAt:     cp.TakenAt,
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return "", 0, err
	}
	if m.KeepLast > 0 {
		if err := m.prune(ctx, cp.ExecutionID); err != nil {
			return key, len(payload), fmt.Errorf("checkpoint prune: %w", err)
		}
	}
	return key, len(payload), nil
}

// Load restores the checkpoint at key along with its decoded state.
func (m *CheckpointManager) Load(ctx context.Context, key string) (*Checkpoint, *state.State, error) {
	rec, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return m.decode(rec)
}

// Latest restores the newest checkpoint of an execution.
func (m *CheckpointManager) Latest(ctx context.Context, executionID string) (*Checkpoint, *state.State, error) {
	recs, err := m.store.List(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	if len(recs) == 0 {
		return nil, nil, fmt.Errorf("%w: execution %s", store.ErrNotFound, executionID)
	}
	return m.decode(recs[len(recs)-1])
}

// FindLabeled restores the newest checkpoint of an execution that carries
// the label.
func (m *CheckpointManager) FindLabeled(ctx context.Context, executionID, label string) (*Checkpoint, *state.State, error) {
	recs, err := m.store.List(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		cp, s, err := m.decode(recs[i])
		if err != nil {
			return nil, nil, err
		}
		if cp.Label == label {
			return cp, s, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: label %q in execution %s", store.ErrNotFound, label, executionID)
}

// History lists an execution's checkpoint records, oldest first.
func (m *CheckpointManager) History(ctx context.Context, executionID string) ([]store.Record, error) {
	return m.store.List(ctx, executionID)
}

func (m *CheckpointManager) decode(rec store.Record) (*Checkpoint, *state.State, error) {
	var cp Checkpoint
	if err := msgpack.Unmarshal(rec.Payload, &cp); err != nil {
		return nil, nil, fmt.Errorf("checkpoint decode %s: %w", rec.Key, err)
	}
	if cp.SchemaVersion > CheckpointSchemaVersion {
		return nil, nil, fmt.Errorf("%w: payload v%d, supported v%d",
			ErrCheckpointSchema, cp.SchemaVersion, CheckpointSchemaVersion)
	}
	s, err := m.codec.Unmarshal(cp.State)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint state %s: %w", rec.Key, err)
	}
	return &cp, s, nil
}

func (m *CheckpointManager) prune(ctx context.Context, executionID string) error {
	recs, err := m.store.List(ctx, executionID)
	if err != nil {
		return err
	}
	for len(recs) > m.KeepLast {
		if err := m.store.Delete(ctx, recs[0].Key); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		recs = recs[1:]
	}
	return nil
}
