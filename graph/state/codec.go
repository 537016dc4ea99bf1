package state

import (
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// CurrentVersion is the schema version written by this build.
var CurrentVersion = Version{Major: 1, Minor: 2, Patch: 0}

// MinimumSupported is the oldest schema version Unmarshal accepts. Older
// payloads fail with ErrVersionIncompatible.
var MinimumSupported = Version{Major: 1, Minor: 0, Patch: 0}

var (
	// ErrVersionIncompatible is returned when a payload predates
	// MinimumSupported.
	ErrVersionIncompatible = errors.New("state: serialized version below minimum supported")

	// ErrChecksumMismatch is returned when the payload checksum does not
	// match the decoded entries.
	ErrChecksumMismatch = errors.New("state: checksum mismatch")
)

// gzipMagic prefixes compressed payloads so Unmarshal can self-detect.
var gzipMagic = []byte{0x1f, 0x8b}

// Envelope is the self-describing serialized form of a State.
type Envelope struct {
	Version      Version           `json:"version"`
	StateID      string            `json:"state_id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastModified time.Time         `json:"last_modified"`
	Keys         []string          `json:"keys"`
	Entries      map[string]Value  `json:"entries"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	History      []Step            `json:"history,omitempty"`
	Checksum     string            `json:"checksum"`
}

// Migration transforms an envelope from one schema version to the next.
// Migrations must be pure: same input, same output, no side effects.
type Migration struct {
	From  Version
	To    Version
	Apply func(*Envelope) error
}

// CodecOptions tunes serialization behavior.
type CodecOptions struct {
	// Compress enables adaptive gzip compression of payloads.
	Compress bool

	// CompressAbove is the initial size threshold in bytes below which
	// payloads are written uncompressed. Adapts at runtime; see Codec.
	CompressAbove int

	// BenefitFloor is the minimum observed saving ratio (0..1) below which
	// the threshold is raised. Default 0.2.
	BenefitFloor float64

	// BenefitWindow is the number of recent compressions sampled when
	// computing the benefit rate. Default 32.
	BenefitWindow int
}

// Codec serializes and deserializes State envelopes with version gating,
// registered migrations, and adaptive compression.
//
// Compression is adaptive: the codec tracks the saving ratio of its recent
// compressions in a rolling window. When the mean saving drops below the
// benefit floor the size threshold doubles, and it halves back down (never
// below the configured starting point) once the benefit recovers.
type Codec struct {
	mu         sync.Mutex
	opts       CodecOptions
	threshold  int
	benefits   []float64
	migrations []Migration
}

// NewCodec creates a codec with the given options. Zero-value options give
// an uncompressed codec with no migrations.
func NewCodec(opts CodecOptions) *Codec {
	if opts.CompressAbove <= 0 {
		opts.CompressAbove = 1024
	}
	if opts.BenefitFloor <= 0 {
		opts.BenefitFloor = 0.2
	}
	if opts.BenefitWindow <= 0 {
		opts.BenefitWindow = 32
	}
	return &Codec{opts: opts, threshold: opts.CompressAbove}
}

// RegisterMigration adds a pure version-pair migration. Migrations are
// applied in version order during Unmarshal.
func (c *Codec) RegisterMigration(m Migration) error {
	if m.Apply == nil {
		return errors.New("state: migration requires an Apply function")
	}
	if !m.From.Less(m.To) {
		return fmt.Errorf("state: migration %s -> %s is not forward", m.From, m.To)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.migrations = append(c.migrations, m)
	sort.SliceStable(c.migrations, func(i, j int) bool {
		return c.migrations[i].From.Less(c.migrations[j].From)
	})
	return nil
}

// Marshal serializes the state into its envelope form, compressing when the
// adaptive threshold and options allow.
func (c *Codec) Marshal(s *State) ([]byte, error) {
	s.mu.RLock()
	env := Envelope{
		Version:      s.version,
		StateID:      s.id,
		CreatedAt:    s.createdAt,
		LastModified: s.lastModified,
		Keys:         append([]string(nil), s.order...),
		Entries:      make(map[string]Value, len(s.entries)),
		Metadata:     make(map[string]string, len(s.meta)),
		History:      append([]Step(nil), s.history...),
		Checksum:     s.checksumLocked(),
	}
	for k, v := range s.entries {
		env.Entries[k] = v
	}
	for k, v := range s.meta {
		env.Metadata[k] = v
	}
	s.mu.RUnlock()

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("state: marshal envelope: %w", err)
	}
	if !c.opts.Compress {
		return raw, nil
	}

	c.mu.Lock()
	threshold := c.threshold
	c.mu.Unlock()
	if len(raw) < threshold {
		return raw, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("state: compress envelope: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("state: compress envelope: %w", err)
	}
	c.observeBenefit(len(raw), buf.Len())
	if buf.Len() >= len(raw) {
		// negative benefit, keep the raw form
		return raw, nil
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes an envelope, enforcing the version gate, running
// registered migrations, and verifying the checksum.
func (c *Codec) Unmarshal(data []byte) (*State, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("state: open compressed envelope: %w", err)
		}
		raw, err := io.ReadAll(zr)
		if cerr := zr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("state: decompress envelope: %w", err)
		}
		data = raw
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("state: decode envelope: %w", err)
	}
	if env.Version.Less(MinimumSupported) {
		return nil, fmt.Errorf("%w: payload %s, minimum %s",
			ErrVersionIncompatible, env.Version, MinimumSupported)
	}
	// the stored checksum covers the entries as written, so it must be
	// verified before migrations rewrite them
	if env.Checksum != "" && env.checksum() != env.Checksum {
		return nil, ErrChecksumMismatch
	}
	if env.Version.Less(CurrentVersion) {
		if err := c.migrate(&env); err != nil {
			return nil, err
		}
	}

	s := &State{
		id:           env.StateID,
		version:      env.Version,
		createdAt:    env.CreatedAt,
		lastModified: env.LastModified,
		order:        append([]string(nil), env.Keys...),
		entries:      make(map[string]Value, len(env.Entries)),
		meta:         make(map[string]string, len(env.Metadata)),
		history:      append([]Step(nil), env.History...),
	}
	for k, v := range env.Entries {
		s.entries[k] = v
	}
	for k, v := range env.Metadata {
		s.meta[k] = v
	}
	if err := s.ValidateIntegrity(); err != nil {
		return nil, err
	}
	return s, nil
}

// checksum recomputes the canonical checksum over the envelope contents,
// mirroring State.Checksum so payloads verify without building a State.
func (e *Envelope) checksum() string {
	var buf bytes.Buffer
	buf.WriteString(e.StateID)
	buf.WriteByte('\n')
	for _, k := range e.Keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		e.Entries[k].appendCanonical(&buf)
		buf.WriteByte('\n')
	}
	metaKeys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		metaKeys = append(metaKeys, k)
	}
	sort.Strings(metaKeys)
	for _, k := range metaKeys {
		buf.WriteString("meta:")
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(e.Metadata[k])
		buf.WriteByte('\n')
	}
	sum := blake3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func (c *Codec) migrate(env *Envelope) error {
	c.mu.Lock()
	migrations := append([]Migration(nil), c.migrations...)
	c.mu.Unlock()
	for _, m := range migrations {
		if env.Version != m.From {
			continue
		}
		if err := m.Apply(env); err != nil {
			return fmt.Errorf("state: migration %s -> %s: %w", m.From, m.To, err)
		}
		env.Version = m.To
	}
	return nil
}

// observeBenefit records one compression outcome and adapts the threshold.
func (c *Codec) observeBenefit(rawLen, compLen int) {
	saving := 0.0
	if rawLen > 0 && compLen < rawLen {
		saving = 1.0 - float64(compLen)/float64(rawLen)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.benefits = append(c.benefits, saving)
	if len(c.benefits) > c.opts.BenefitWindow {
		c.benefits = c.benefits[len(c.benefits)-c.opts.BenefitWindow:]
	}
	var sum float64
	for _, b := range c.benefits {
		sum += b
	}
	mean := sum / float64(len(c.benefits))
	if mean < c.opts.BenefitFloor {
		if c.threshold < 1<<20 {
			c.threshold *= 2
		}
	} else if c.threshold > c.opts.CompressAbove {
		c.threshold /= 2
	}
}

// Threshold reports the current adaptive compression threshold in bytes.
func (c *Codec) Threshold() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}
