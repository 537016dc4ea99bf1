package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "", ttl)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisRoundTrip(t *testing.T) {
	s, _ := redisStore(t, 0)
	ctx := context.Background()

	saved := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	require.NoError(t, s.Put(ctx, Record{
		Key:         "e1/01",
		ExecutionID: "e1",
		Payload:     []byte{0x00, 0x9c, 0xff},
		SavedAt:     saved,
	}))

	got, err := s.Get(ctx, "e1/01")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ExecutionID)
	assert.Equal(t, []byte{0x00, 0x9c, 0xff}, got.Payload)
	assert.True(t, got.SavedAt.Equal(saved))
}

func TestRedisGetMissing(t *testing.T) {
	s, _ := redisStore(t, 0)
	_, err := s.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisListOrdering(t *testing.T) {
	s, _ := redisStore(t, 0)
	ctx := context.Background()

	// zero-score members sort lexically, matching ULID chronology
	for _, k := range []string{"e1/02", "e1/01", "e1/03"} {
		require.NoError(t, s.Put(ctx, rec(k, "e1", k)))
	}
	recs, err := s.List(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "e1/01", recs[0].Key)
	assert.Equal(t, "e1/03", recs[2].Key)
}

func TestRedisDelete(t *testing.T) {
	s, _ := redisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, rec("e1/01", "e1", "one")))
	require.NoError(t, s.Delete(ctx, "e1/01"))

	_, err := s.Get(ctx, "e1/01")
	assert.ErrorIs(t, err, ErrNotFound)

	recs, err := s.List(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRedisTTLExpiry(t *testing.T) {
	s, mr := redisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, rec("e1/01", "e1", "one")))
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "e1/01")
	assert.ErrorIs(t, err, ErrNotFound)

	// the index self-heals when listing past expired members
	recs, err := s.List(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRedisPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	a := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "tenant-a", 0)
	b := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "tenant-b", 0)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, rec("e1/01", "e1", "one")))
	_, err := b.Get(ctx, "e1/01")
	assert.ErrorIs(t, err, ErrNotFound)
}
