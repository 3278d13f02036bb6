package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// L1 is the fast top-tier cache, backed by Redis when configured or an
// in-process map otherwise.
type L1 interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisL1 implements L1 over a Redis client.
type RedisL1 struct {
	client *redis.Client
}

// NewRedisL1 wraps an existing Redis client.
func NewRedisL1(client *redis.Client) *RedisL1 {
	return &RedisL1{client: client}
}

// Get returns the cached value, (nil, false, nil) on a clean miss.
func (r *RedisL1) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores value under key with the given TTL.
func (r *RedisL1) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes key unconditionally.
func (r *RedisL1) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// MemoryL1 is a process-local fallback used when no Redis endpoint is
// configured; entries expire lazily on access.
type MemoryL1 struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryL1 returns an empty in-process L1 cache.
func NewMemoryL1() *MemoryL1 {
	return &MemoryL1{entries: make(map[string]memoryEntry)}
}

// Get returns the cached value, evicting it first if its TTL has elapsed.
func (m *MemoryL1) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the given TTL.
func (m *MemoryL1) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes key unconditionally.
func (m *MemoryL1) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
