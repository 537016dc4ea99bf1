package state

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func testState(t *testing.T) *State {
	t.Helper()
	s := New()
	if err := s.Set("title", String("report")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("count", Int(12)); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec(CodecOptions{})
	s := testState(t)

	raw, err := codec.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := codec.Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !s.Equal(back) {
		t.Error("round trip changed state")
	}
	if back.ID() != s.ID() {
		t.Errorf("state ID changed: %s -> %s", s.ID(), back.ID())
	}
}

func TestCodecCompression(t *testing.T) {
	codec := NewCodec(CodecOptions{Compress: true, CompressAbove: 64})
	s := testState(t)
	if err := s.Set("body", String(strings.Repeat("compressible text ", 200))); err != nil {
		t.Fatal(err)
	}

	raw, err := codec.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, gzipMagic) {
		t.Fatal("large payload should be gzip-compressed")
	}
	back, err := codec.Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal compressed: %v", err)
	}
	if !s.Equal(back) {
		t.Error("compressed round trip changed state")
	}
}

func TestCodecAdaptiveThreshold(t *testing.T) {
	codec := NewCodec(CodecOptions{
		Compress:      true,
		CompressAbove: 64,
		BenefitFloor:  0.5,
		BenefitWindow: 4,
	})
	s := New()
	// random bytes compress poorly, so the observed benefit stays under
	// the floor and the threshold climbs
	rng := rand.New(rand.NewSource(1))
	blob := make([]byte, 4096)
	rng.Read(blob)
	if err := s.Set("blob", Bytes(blob)); err != nil {
		t.Fatal(err)
	}

	before := codec.Threshold()
	for i := 0; i < 6; i++ {
		if _, err := codec.Marshal(s); err != nil {
			t.Fatal(err)
		}
	}
	peak := codec.Threshold()
	if peak <= before {
		t.Fatalf("threshold did not adapt up: %d -> %d", before, peak)
	}

	// a run of highly compressible payloads pushes the window mean back
	// over the floor and the threshold halves toward its starting point
	if err := s.Set("body", String(strings.Repeat("the quick brown fox ", 2000))); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		if _, err := codec.Marshal(s); err != nil {
			t.Fatal(err)
		}
	}
	after := codec.Threshold()
	if after >= peak {
		t.Errorf("threshold did not recover down: peak %d, now %d", peak, after)
	}
	if after < 64 {
		t.Errorf("threshold fell below its configured floor: %d", after)
	}
}

func TestCodecVersionGate(t *testing.T) {
	codec := NewCodec(CodecOptions{})
	s := testState(t)
	raw, err := codec.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}

	old := bytes.Replace(raw,
		[]byte(`"version":{"major":1,"minor":2,"patch":0}`),
		[]byte(`"version":{"major":0,"minor":9,"patch":0}`), 1)
	if bytes.Equal(old, raw) {
		t.Fatal("failed to rewrite version in fixture")
	}
	if _, err := codec.Unmarshal(old); !errors.Is(err, ErrVersionIncompatible) {
		t.Errorf("got %v, want ErrVersionIncompatible", err)
	}
}

func TestCodecMigration(t *testing.T) {
	codec := NewCodec(CodecOptions{})
	migrated := false
	err := codec.RegisterMigration(Migration{
		From: Version{Major: 1, Minor: 1, Patch: 0},
		To:   CurrentVersion,
		Apply: func(env *Envelope) error {
			migrated = true
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	s := testState(t)
	raw, err := codec.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	old := bytes.Replace(raw,
		[]byte(`"version":{"major":1,"minor":2,"patch":0}`),
		[]byte(`"version":{"major":1,"minor":1,"patch":0}`), 1)

	if _, err := codec.Unmarshal(old); err != nil {
		t.Fatalf("Unmarshal migrated: %v", err)
	}
	if !migrated {
		t.Error("migration did not run")
	}
}

func TestCodecMigrationTransformsEntries(t *testing.T) {
	codec := NewCodec(CodecOptions{})
	err := codec.RegisterMigration(Migration{
		From: Version{Major: 1, Minor: 1, Patch: 0},
		To:   CurrentVersion,
		Apply: func(env *Envelope) error {
			// older payloads stored the counter under "count"
			if v, ok := env.Entries["count"]; ok {
				env.Entries["total"] = v
				delete(env.Entries, "count")
				for i, k := range env.Keys {
					if k == "count" {
						env.Keys[i] = "total"
					}
				}
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	s := testState(t)
	raw, err := codec.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	old := bytes.Replace(raw,
		[]byte(`"version":{"major":1,"minor":2,"patch":0}`),
		[]byte(`"version":{"major":1,"minor":1,"patch":0}`), 1)

	back, err := codec.Unmarshal(old)
	if err != nil {
		t.Fatalf("Unmarshal with transforming migration: %v", err)
	}
	if !back.Contains("total") || back.Contains("count") {
		t.Errorf("migration did not rewrite the key: keys %v", back.Keys())
	}
}

func TestCodecRejectsBackwardMigration(t *testing.T) {
	codec := NewCodec(CodecOptions{})
	err := codec.RegisterMigration(Migration{
		From:  CurrentVersion,
		To:    Version{Major: 1, Minor: 0, Patch: 0},
		Apply: func(*Envelope) error { return nil },
	})
	if err == nil {
		t.Error("backward migration should be rejected")
	}
}

func TestCodecChecksumMismatch(t *testing.T) {
	codec := NewCodec(CodecOptions{})
	s := testState(t)
	raw, err := codec.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(raw, []byte(`"report"`), []byte(`"REPORT"`), 1)
	if bytes.Equal(tampered, raw) {
		t.Fatal("failed to tamper fixture")
	}
	if _, err := codec.Unmarshal(tampered); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("got %v, want ErrChecksumMismatch", err)
	}
}
