// Package cache stores approved answers keyed by request fingerprint so
// the decision gate can serve repeat requests without a backend call.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jordanhubbard/spindle/pkg/models"
)

// Entry represents a cached approved answer
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	Answer      string          `json:"answer"`
	Flow        models.FlowKind `json:"flow"`
	CachedAt    time.Time       `json:"cached_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Hits        int64           `json:"hits"`
}

// Stats tracks cache performance
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Evictions    int64   `json:"evictions"`
	TotalEntries int64   `json:"total_entries"`
	HitRate      float64 `json:"hit_rate"`
}

// Backend is the storage interface for the answer cache
type Backend interface {
	Get(ctx context.Context, fingerprint string) (*Entry, bool)
	Set(ctx context.Context, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context, fingerprint string)
	Clear(ctx context.Context)
	InvalidateByAge(ctx context.Context, maxAge time.Duration) int
	GetStats(ctx context.Context) *Stats
}

// MemoryCache is the in-process backend
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	maxSize int
	stats   Stats
}

// NewMemoryCache creates an in-memory cache holding at most maxSize
// entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryCache{
		entries: make(map[string]*Entry),
		maxSize: maxSize,
	}
}

// Get returns the entry for a fingerprint if present and unexpired.
func (c *MemoryCache) Get(ctx context.Context, fingerprint string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(c.entries, fingerprint)
		c.stats.Misses++
		c.stats.Evictions++
		return nil, false
	}

	entry.Hits++
	c.stats.Hits++
	snapshot := *entry
	return &snapshot, true
}

// Set stores an entry with the given TTL.
func (c *MemoryCache) Set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	stored := *entry
	if stored.CachedAt.IsZero() {
		stored.CachedAt = time.Now()
	}
	stored.ExpiresAt = stored.CachedAt.Add(ttl)
	c.entries[stored.Fingerprint] = &stored
	return nil
}

// Delete removes an entry.
func (c *MemoryCache) Delete(ctx context.Context, fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fingerprint)
}

// Clear removes all entries.
func (c *MemoryCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// InvalidateByAge removes entries cached earlier than maxAge ago.
// Returns the count removed.
func (c *MemoryCache) InvalidateByAge(ctx context.Context, maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for fp, entry := range c.entries {
		if entry.CachedAt.Before(cutoff) {
			delete(c.entries, fp)
			removed++
		}
	}
	c.stats.Evictions += int64(removed)
	return removed
}

// GetStats returns a stats snapshot.
func (c *MemoryCache) GetStats(ctx context.Context) *Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.TotalEntries = int64(len(c.entries))
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return &stats
}

func (c *MemoryCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for fp, entry := range c.entries {
		if oldestKey == "" || entry.CachedAt.Before(oldest) {
			oldestKey = fp
			oldest = entry.CachedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}
