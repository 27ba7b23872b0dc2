package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyHeader lets a page retry a create without adding the task twice.
const IdempotencyHeader = "Idempotency-Key"

const dedupeKeyPrefix = "todo-app:idem"

// Deduper remembers which task a create request produced.
type Deduper interface {
	// Reserve claims key. When the key is already known it returns the task id
	// recorded for it, which is empty while the first request is in flight.
	Reserve(ctx context.Context, key string) (taskID string, fresh bool, err error)
	// Commit records the task created under key.
	Commit(ctx context.Context, key, taskID string) error
	// Release forgets key so the request may be retried.
	Release(ctx context.Context, key string) error
}

// RedisDeduper keeps idempotency keys in Redis with a TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(key string) string {
	return dedupeKeyPrefix + ":" + key
}

func (r *RedisDeduper) Reserve(ctx context.Context, key string) (string, bool, error) {
	added, err := r.client.SetNX(ctx, r.key(key), "", r.ttl).Result()
	if err != nil || added {
		return "", added, err
	}
	id, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls.
		return r.Reserve(ctx, key)
	}
	return id, false, err
}

func (r *RedisDeduper) Commit(ctx context.Context, key, taskID string) error {
	return r.client.Set(ctx, r.key(key), taskID, r.ttl).Err()
}

func (r *RedisDeduper) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// MemoryDeduper keeps idempotency keys in process memory.
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]memoryKey
}

type memoryKey struct {
	taskID  string
	expires time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, now: time.Now, keys: map[string]memoryKey{}}
}

func (m *MemoryDeduper) Reserve(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if k, ok := m.keys[key]; ok && now.Before(k.expires) {
		return k.taskID, false, nil
	}
	m.keys[key] = memoryKey{expires: now.Add(m.ttl)}
	return "", true, nil
}

func (m *MemoryDeduper) Commit(_ context.Context, key, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = memoryKey{taskID: taskID, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryDeduper) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
