package state

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Engine-reserved metadata keys. Loop counters and retry attempt counters
// live here so they survive checkpoint round-trips.
const (
	MetaKeyPrefix  = "flowgrid."
	MetaAttemptKey = MetaKeyPrefix + "attempt."
	MetaLoopKey    = MetaKeyPrefix + "loop."
	MetaErrorKind  = MetaKeyPrefix + "lasterror.kind"
	MetaErrorNode  = MetaKeyPrefix + "lasterror.node"
)

var (
	// ErrKeyNotFound is returned by Get for missing keys.
	ErrKeyNotFound = errors.New("state: key not found")

	// ErrEmptyKey is returned when an operation names an empty key.
	ErrEmptyKey = errors.New("state: key cannot be empty")

	// ErrKindChanged is returned by Set when a write would change the kind
	// of an existing entry. Use Replace for an explicit kind change.
	ErrKindChanged = errors.New("state: value kind changed for existing key")

	// ErrIntegrity is returned by ValidateIntegrity when internal
	// bookkeeping disagrees with the entry map.
	ErrIntegrity = errors.New("state: integrity check failed")
)

// StepStatus is the outcome of one execution step.
type StepStatus string

const (
	StepOK       StepStatus = "ok"
	StepFailed   StepStatus = "failed"
	StepSkipped  StepStatus = "skipped"
	StepRetried  StepStatus = "retried"
	StepCanceled StepStatus = "canceled"
)

// Step records one executor step boundary in the append-only history.
type Step struct {
	NodeID     string     `json:"node_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Status     StepStatus `json:"status"`
	Attempt    int        `json:"attempt"`
	DurationMS int64      `json:"duration_ms"`
	ErrorKind  string     `json:"error_kind,omitempty"`
}

// Version is a semantic major.minor.patch triple attached to every State.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// String formats the version as "major.minor.patch".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less reports whether v orders strictly before o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// State is an ordered, string-keyed mapping of tagged values shared across
// one workflow execution.
//
// The executor exclusively owns a State for the duration of a run; nodes
// receive it one step at a time. All methods are safe for concurrent use,
// which covers the read-only access parallel branch scopes perform against
// their copy-on-write parent.
type State struct {
	mu           sync.RWMutex
	id           string
	version      Version
	createdAt    time.Time
	lastModified time.Time

	order   []string
	entries map[string]Value
	meta    map[string]string
	history []Step

	txns []*txnFrame
}

// New creates an empty State with a generated stable identifier and the
// current schema version.
func New() *State {
	now := time.Now().UTC()
	return &State{
		id:           uuid.NewString(),
		version:      CurrentVersion,
		createdAt:    now,
		lastModified: now,
		entries:      make(map[string]Value),
		meta:         make(map[string]string),
	}
}

// NewWithID creates an empty State with a caller-provided identifier.
func NewWithID(id string) *State {
	s := New()
	s.id = id
	return s
}

// ID returns the stable state identifier.
func (s *State) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Version returns the schema version of this state.
func (s *State) Version() Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// CreatedAt returns the creation timestamp.
func (s *State) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// LastModified returns the timestamp of the most recent mutation.
func (s *State) LastModified() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastModified
}

// Get returns the value stored under key, or ErrKeyNotFound.
func (s *State) Get(key string) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return v, nil
}

// TryGet returns the value stored under key and whether it exists.
func (s *State) TryGet(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// GetString is a convenience accessor for string entries. Missing keys and
// kind mismatches both report ok=false.
func (s *State) GetString(key string) (string, bool) {
	v, ok := s.TryGet(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// GetInt is a convenience accessor for int entries.
func (s *State) GetInt(key string) (int64, bool) {
	v, ok := s.TryGet(key)
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// GetBool is a convenience accessor for bool entries.
func (s *State) GetBool(key string) (bool, bool) {
	v, ok := s.TryGet(key)
	if !ok {
		return false, false
	}
	return v.AsBool()
}

// GetList returns the list entry at key, or an error when the key is
// missing or not a list.
func (s *State) GetList(key string) ([]Value, error) {
	v, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	list, ok := v.AsList()
	if !ok {
		return nil, fmt.Errorf("state: key %q holds %s, not a list", key, v.Kind())
	}
	return list, nil
}

// Set writes value under key. Writing a different kind to an existing key
// fails with ErrKindChanged; use Replace for an explicit kind change.
func (s *State) Set(key string, value Value) error {
	if key == "" {
		return ErrEmptyKey
	}
	if value.IsZero() {
		return fmt.Errorf("state: cannot store invalid value under %q", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok {
		if existing.Kind() != value.Kind() {
			return fmt.Errorf("%w: key %q holds %s, write is %s",
				ErrKindChanged, key, existing.Kind(), value.Kind())
		}
	} else {
		s.order = append(s.order, key)
	}
	s.entries[key] = value
	s.lastModified = time.Now().UTC()
	return nil
}

// Replace writes value under key, allowing the kind to change.
func (s *State) Replace(key string, value Value) error {
	if key == "" {
		return ErrEmptyKey
	}
	if value.IsZero() {
		return fmt.Errorf("state: cannot store invalid value under %q", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = value
	s.lastModified = time.Now().UTC()
	return nil
}

// Remove deletes the entry under key. Removing a missing key is a no-op.
func (s *State) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.lastModified = time.Now().UTC()
}

// Contains reports whether key exists.
func (s *State) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Keys returns the keys in insertion order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of entries.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SetMeta writes a metadata entry. Metadata is a small string map shared by
// the engine (reserved "flowgrid." prefix) and user code.
func (s *State) SetMeta(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	s.lastModified = time.Now().UTC()
}

// Meta returns the metadata entry under key.
func (s *State) Meta(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.meta[key]
	return v, ok
}

// DeleteMeta removes a metadata entry.
func (s *State) DeleteMeta(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta, key)
}

// MetaMap returns a copy of all metadata.
func (s *State) MetaMap() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.meta))
	for k, v := range s.meta {
		out[k] = v
	}
	return out
}

// AppendStep appends a record to the execution history. History is
// append-only; nodes never mutate it.
func (s *State) AppendStep(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, step)
	s.lastModified = time.Now().UTC()
}

// History returns a copy of the execution history.
func (s *State) History() []Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Step, len(s.history))
	copy(out, s.history)
	return out
}

// Env unwraps all entries into plain Go values keyed by entry name, for
// expression predicates and templating.
func (s *State) Env() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.entries))
	for k, v := range s.entries {
		out[k] = v.Any()
	}
	return out
}

// Snapshot returns an independent deep copy of the state, including
// metadata and history. The copy shares the same StateId and version.
func (s *State) Snapshot() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() *State {
	cp := &State{
		id:           s.id,
		version:      s.version,
		createdAt:    s.createdAt,
		lastModified: s.lastModified,
		order:        make([]string, len(s.order)),
		entries:      make(map[string]Value, len(s.entries)),
		meta:         make(map[string]string, len(s.meta)),
		history:      make([]Step, len(s.history)),
	}
	copy(cp.order, s.order)
	copy(cp.history, s.history)
	for k, v := range s.entries {
		cp.entries[k] = v
	}
	for k, v := range s.meta {
		cp.meta[k] = v
	}
	return cp
}

// Restore replaces this state's contents with those of the snapshot. Open
// transactions on the receiver are unaffected.
func (s *State) Restore(snap *State) {
	cp := snap.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = cp.id
	s.version = cp.version
	s.createdAt = cp.createdAt
	s.lastModified = cp.lastModified
	s.order = cp.order
	s.entries = cp.entries
	s.meta = cp.meta
	s.history = cp.history
}

// Checksum returns a hex-encoded BLAKE3 digest over the canonical form of
// the entries and metadata. Envelope timestamps are excluded so the
// checksum is stable across serialize/deserialize round-trips.
func (s *State) Checksum() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checksumLocked()
}

func (s *State) checksumLocked() string {
	var buf bytes.Buffer
	buf.WriteString(s.id)
	buf.WriteByte('\n')
	for _, k := range s.order {
		buf.WriteString(k)
		buf.WriteByte('=')
		s.entries[k].appendCanonical(&buf)
		buf.WriteByte('\n')
	}
	metaKeys := make([]string, 0, len(s.meta))
	for k := range s.meta {
		metaKeys = append(metaKeys, k)
	}
	sort.Strings(metaKeys)
	for _, k := range metaKeys {
		buf.WriteString("meta:")
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(s.meta[k])
		buf.WriteByte('\n')
	}
	sum := blake3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// ValidateIntegrity verifies internal invariants: the key order matches the
// entry map exactly and no entry holds an invalid value.
func (s *State) ValidateIntegrity() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) != len(s.entries) {
		return fmt.Errorf("%w: %d ordered keys, %d entries",
			ErrIntegrity, len(s.order), len(s.entries))
	}
	seen := make(map[string]bool, len(s.order))
	for _, k := range s.order {
		if k == "" {
			return fmt.Errorf("%w: empty key in order index", ErrIntegrity)
		}
		if seen[k] {
			return fmt.Errorf("%w: duplicate key %q in order index", ErrIntegrity, k)
		}
		seen[k] = true
		v, ok := s.entries[k]
		if !ok {
			return fmt.Errorf("%w: ordered key %q missing from entries", ErrIntegrity, k)
		}
		if v.IsZero() {
			return fmt.Errorf("%w: key %q holds invalid value", ErrIntegrity, k)
		}
	}
	return nil
}

// Equal reports whether two states hold the same entries, metadata, and
// history. Envelope timestamps are not compared.
func (s *State) Equal(o *State) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o.mu.RLock()
	defer o.mu.RUnlock()
	if s.id != o.id || s.version != o.version {
		return false
	}
	if len(s.order) != len(o.order) || len(s.meta) != len(o.meta) || len(s.history) != len(o.history) {
		return false
	}
	for i, k := range s.order {
		if o.order[i] != k {
			return false
		}
		if !s.entries[k].Equal(o.entries[k]) {
			return false
		}
	}
	for k, v := range s.meta {
		if o.meta[k] != v {
			return false
		}
	}
	for i := range s.history {
		if s.history[i] != o.history[i] {
			return false
		}
	}
	return true
}
