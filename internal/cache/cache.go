// Package cache is a read-through JSON cache in Redis.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores values of type T under prefix+id. With a nil Redis client
// every lookup goes straight to the fetch function.
type Cache[T any] struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func New[T any](rdb *redis.Client, prefix string, ttl time.Duration) *Cache[T] {
	return &Cache[T]{redis: rdb, prefix: prefix, ttl: ttl}
}

func (c *Cache[T]) key(id string) string {
	return c.prefix + id
}

// GetOrFetch returns the cached value or loads it with fetch and stores
// it. Cache failures are logged and never fail the lookup.
func (c *Cache[T]) GetOrFetch(ctx context.Context, id string, fetch func(ctx context.Context) (*T, error)) (*T, error) {
	if c == nil || c.redis == nil {
		return fetch(ctx)
	}

	data, err := c.redis.Get(ctx, c.key(id)).Bytes()
	if err == nil {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return &v, nil
		}
		log.Printf("[CACHE] Discarding undecodable entry %s", c.key(id))
	} else if err != redis.Nil {
		log.Printf("[CACHE] Get %s failed: %v", c.key(id), err)
	}

	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(v); err == nil {
		if err := c.redis.Set(ctx, c.key(id), data, c.ttl).Err(); err != nil {
			log.Printf("[CACHE] Set %s failed: %v", c.key(id), err)
		}
	}
	return v, nil
}

// Invalidate drops the entries for ids. It is called after every
// committed write that changes them.
func (c *Cache[T]) Invalidate(ctx context.Context, ids ...string) {
	if c == nil || c.redis == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[CACHE] Invalidate %v failed: %v", keys, err)
	}
}
