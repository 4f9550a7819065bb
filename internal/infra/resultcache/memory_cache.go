package resultcache

import (
	"context"
	"sync"
	"time"

	"github.com/yanqian/ecoloop/internal/domain/pipeline"
)

type entry struct {
	result    pipeline.Result
	expiresAt time.Time
}

// MemoryCache keeps results in process memory for single-instance and
// development deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryCache constructs a cache backed by process memory.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get implements pipeline.ResultCache.
func (c *MemoryCache) Get(_ context.Context, key string) (pipeline.Result, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.expired(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.result, true, nil
}

// Set stores result with an optional TTL and sweeps expired entries.
func (c *MemoryCache) Set(_ context.Context, key string, result pipeline.Result, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if c.expired(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	exp := time.Time{}
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.entries[key] = entry{result: result, expiresAt: exp}
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) expired(ts time.Time) bool {
	if ts.IsZero() {
		return false
	}
	return ts.Before(c.now())
}

var _ pipeline.ResultCache = (*MemoryCache)(nil)
