package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers keys for a while so repeated requests can be detected.
type Deduper interface {
	// Add records key and reports whether it was new.
	Add(ctx context.Context, key string) (bool, error)
	// Remove forgets key so the request may be retried.
	Remove(ctx context.Context, key string) error
}

type entry struct {
	exp time.Time
}

// MemoryCache is a process-local Deduper.
type MemoryCache struct {
	mu  sync.Mutex
	m   map[string]entry
	ttl time.Duration
	now func() time.Time
}

func NewMemory(ttl time.Duration) *MemoryCache {
	return &MemoryCache{m: make(map[string]entry), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Add(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if e, ok := c.m[key]; ok && now.Before(e.exp) {
		return false, nil
	}
	c.m[key] = entry{exp: now.Add(c.ttl)}
	c.sweep(now)
	return true, nil
}

func (c *MemoryCache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

// sweep drops expired keys; callers hold mu.
func (c *MemoryCache) sweep(now time.Time) {
	for k, e := range c.m {
		if !now.Before(e.exp) {
			delete(c.m, k)
		}
	}
}

// RedisDeduper stores keys in Redis so every instance sees the same set.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisDeduper) key(k string) string { return r.prefix + ":" + k }

func (r *RedisDeduper) Add(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), 1, r.ttl).Result()
}

func (r *RedisDeduper) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
