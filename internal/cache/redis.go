package cache

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "spindle:answer:"

// RedisCache is a Redis-backed answer cache for deployments where
// approved answers should survive restarts and be shared across
// instances.
type RedisCache struct {
	client *redis.Client

	mu    sync.Mutex
	stats Stats
}

// NewRedisCache connects to Redis using a URL
// (redis://[user:pass@]host:port/db) and verifies the connection.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	log.Printf("[Cache] Connected to Redis at %s", opts.Addr)
	return &RedisCache{client: client}, nil
}

// Get returns the entry for a fingerprint if present.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*Entry, bool) {
	data, err := c.client.Get(ctx, redisKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[Cache] Redis GET failed: %v", err)
		}
		c.count(func(s *Stats) { s.Misses++ })
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Printf("[Cache] Corrupt cache entry for %.12s: %v", fingerprint, err)
		c.client.Del(ctx, redisKeyPrefix+fingerprint)
		c.count(func(s *Stats) { s.Misses++ })
		return nil, false
	}

	entry.Hits++
	c.count(func(s *Stats) { s.Hits++ })
	return &entry, true
}

// Set stores an entry with the given TTL. Redis handles expiry.
func (c *RedisCache) Set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	stored := *entry
	if stored.CachedAt.IsZero() {
		stored.CachedAt = time.Now()
	}
	stored.ExpiresAt = stored.CachedAt.Add(ttl)

	data, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+stored.Fingerprint, data, ttl).Err()
}

// Delete removes an entry.
func (c *RedisCache) Delete(ctx context.Context, fingerprint string) {
	if err := c.client.Del(ctx, redisKeyPrefix+fingerprint).Err(); err != nil {
		log.Printf("[Cache] Redis DEL failed: %v", err)
	}
}

// Clear removes all spindle answer keys.
func (c *RedisCache) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("[Cache] Redis SCAN failed during clear: %v", err)
	}
}

// InvalidateByAge removes entries cached earlier than maxAge ago.
func (c *RedisCache) InvalidateByAge(ctx context.Context, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if entry.CachedAt.Before(cutoff) {
			c.client.Del(ctx, iter.Val())
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		log.Printf("[Cache] Redis SCAN failed during invalidation: %v", err)
	}

	c.count(func(s *Stats) { s.Evictions += int64(removed) })
	return removed
}

// GetStats returns a stats snapshot. Entry count comes from Redis.
func (c *RedisCache) GetStats(ctx context.Context) *Stats {
	c.mu.Lock()
	stats := c.stats
	c.mu.Unlock()

	var total int64
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		total++
	}
	stats.TotalEntries = total
	if sum := stats.Hits + stats.Misses; sum > 0 {
		stats.HitRate = float64(stats.Hits) / float64(sum)
	}
	return &stats
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) count(update func(*Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.stats)
}
