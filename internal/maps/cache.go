package maps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores lookup results as JSON under string keys.
type Cache interface {
	Get(ctx context.Context, key string, out interface{}) (bool, error)
	Set(ctx context.Context, key string, v interface{}) error
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu    sync.RWMutex
	store map[string]memEntry
	ttl   time.Duration
}

type memEntry struct {
	v  []byte
	ts time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{store: make(map[string]memEntry), ttl: ttl}
}

func (c *MemoryCache) Get(_ context.Context, key string, out interface{}) (bool, error) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return false, nil
	}
	return true, json.Unmarshal(e.v, out)
}

func (c *MemoryCache) Set(_ context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.store[key] = memEntry{v: b, ts: time.Now()}
	c.mu.Unlock()
	return nil
}

// RedisCache shares lookups between API instances.
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func (c *RedisCache) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	val, err := c.Client.Get(ctx, c.Prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("maps cache get: %w", err)
	}
	if err := json.Unmarshal(val, out); err != nil {
		return false, fmt.Errorf("maps cache decode: %w", err)
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("maps cache encode: %w", err)
	}
	if err := c.Client.Set(ctx, c.Prefix+key, b, c.TTL).Err(); err != nil {
		return fmt.Errorf("maps cache set: %w", err)
	}
	return nil
}
