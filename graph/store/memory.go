package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. Suitable for tests and
// single-process runs without durability requirements.
type MemoryStore struct {
	mu     sync.RWMutex
	byKey  map[string]Record
	byExec map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:  make(map[string]Record),
		byExec: make(map[string][]string),
	}
}

// Put implements CheckpointStore.
func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	if rec.Key == "" {
		return fmt.Errorf("store: record requires a key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[rec.Key]; !exists {
		m.byExec[rec.ExecutionID] = append(m.byExec[rec.ExecutionID], rec.Key)
	}
	cp := rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	m.byKey[rec.Key] = cp
	return nil
}

// Get implements CheckpointStore.
func (m *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byKey[key]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	cp := rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	return cp, nil
}

// List implements CheckpointStore.
func (m *MemoryStore) List(_ context.Context, executionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := append([]string(nil), m.byExec[executionID]...)
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec := m.byKey[k]
		rec.Payload = append([]byte(nil), rec.Payload...)
		out = append(out, rec)
	}
	return out, nil
}

// Delete implements CheckpointStore.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byKey[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(m.byKey, key)
	keys := m.byExec[rec.ExecutionID]
	for i, k := range keys {
		if k == key {
			m.byExec[rec.ExecutionID] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	return nil
}

// Close implements CheckpointStore.
func (m *MemoryStore) Close() error { return nil }
