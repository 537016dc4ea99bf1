package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints in Redis: one hash per checkpoint plus a
// sorted set per execution for ordered listing. An optional TTL expires
// stale checkpoints.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. prefix namespaces the keys
// (default "flowgrid"); ttl of zero keeps checkpoints forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "flowgrid"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) recordKey(key string) string {
	return r.prefix + ":ckpt:" + key
}

func (r *RedisStore) indexKey(executionID string) string {
	return r.prefix + ":exec:" + executionID
}

// Put implements CheckpointStore.
func (r *RedisStore) Put(ctx context.Context, rec Record) error {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.recordKey(rec.Key), map[string]any{
		"execution_id": rec.ExecutionID,
		"payload":      rec.Payload,
		"saved_at":     rec.SavedAt.UnixNano(),
	})
	pipe.ZAdd(ctx, r.indexKey(rec.ExecutionID), redis.Z{Score: 0, Member: rec.Key})
	if r.ttl > 0 {
		pipe.Expire(ctx, r.recordKey(rec.Key), r.ttl)
		pipe.Expire(ctx, r.indexKey(rec.ExecutionID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: put %s: %w", rec.Key, err)
	}
	return nil
}

// Get implements CheckpointStore.
func (r *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	fields, err := r.client.HGetAll(ctx, r.recordKey(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("store: get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	rec := Record{
		Key:         key,
		ExecutionID: fields["execution_id"],
		Payload:     []byte(fields["payload"]),
	}
	var nanos int64
	fmt.Sscanf(fields["saved_at"], "%d", &nanos)
	rec.SavedAt = time.Unix(0, nanos).UTC()
	return rec, nil
}

// List implements CheckpointStore. Members share a zero score, so Redis
// orders them lexically by key, which matches chronological order for
// ULID-based keys.
func (r *RedisStore) List(ctx context.Context, executionID string) ([]Record, error) {
	keys, err := r.client.ZRange(ctx, r.indexKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", executionID, err)
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec, err := r.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			// expired under TTL, drop from the index
			r.client.ZRem(ctx, r.indexKey(executionID), k)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete implements CheckpointStore.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	rec, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.recordKey(key))
	pipe.ZRem(ctx, r.indexKey(rec.ExecutionID), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// Close implements CheckpointStore.
func (r *RedisStore) Close() error { return r.client.Close() }
