package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()

	saved := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	require.NoError(t, s.Put(ctx, Record{
		Key:         "e1/01",
		ExecutionID: "e1",
		Payload:     []byte{0x01, 0x02, 0x00, 0xff},
		SavedAt:     saved,
	}))

	got, err := s.Get(ctx, "e1/01")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ExecutionID)
	assert.Equal(t, []byte{0x01, 0x02, 0x00, 0xff}, got.Payload)
	assert.True(t, got.SavedAt.Equal(saved), "nanosecond precision lost: %s", got.SavedAt)
}

func TestSQLiteGetMissing(t *testing.T) {
	s := sqliteStore(t)
	_, err := s.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteUpsert(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, rec("e1/01", "e1", "v1")))
	require.NoError(t, s.Put(ctx, rec("e1/01", "e1", "v2")))

	got, err := s.Get(ctx, "e1/01")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got.Payload))

	recs, err := s.List(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSQLiteListOrdering(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()

	for _, k := range []string{"e1/02", "e1/01", "e1/03"} {
		require.NoError(t, s.Put(ctx, rec(k, "e1", k)))
	}
	require.NoError(t, s.Put(ctx, rec("e2/01", "e2", "other")))

	recs, err := s.List(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "e1/01", recs[0].Key)
	assert.Equal(t, "e1/03", recs[2].Key)
}

func TestSQLiteDelete(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, rec("e1/01", "e1", "one")))
	require.NoError(t, s.Delete(ctx, "e1/01"))

	_, err := s.Get(ctx, "e1/01")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "e1/01"), ErrNotFound)
}
