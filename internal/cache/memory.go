package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

const (
	// DefaultMaxEntries bounds a MemoryCache created by NewMemoryCache
	DefaultMaxEntries = 10000
	sweepEvery        = 256
)

// MemoryCache is an in-process Cache used when Redis is not configured.
// Expired entries are swept every sweepEvery writes and whenever the cache is full.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	now        func() time.Time
	maxEntries int
	writes     int
}

// NewMemoryCache creates an empty in-memory cache holding at most DefaultMaxEntries
func NewMemoryCache() *MemoryCache {
	return NewBoundedMemoryCache(DefaultMaxEntries)
}

// NewBoundedMemoryCache creates an empty in-memory cache holding at most maxEntries.
// A non-positive bound disables the limit; expired entries are still swept.
func NewBoundedMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		now:        time.Now,
		maxEntries: maxEntries,
	}
}

// Get returns a copy of the stored value if present and not expired
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set stores a copy of value under key. When the cache is full and nothing has
// expired, an arbitrary entry is evicted.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	now := c.now()
	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes++
	_, exists := c.entries[key]
	full := !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries
	if full || c.writes >= sweepEvery {
		c.sweepLocked(now)
	}
	if !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		for victim := range c.entries {
			delete(c.entries, victim)
			break
		}
	}

	c.entries[key] = entry
	return nil
}

// sweepLocked drops every expired entry; c.mu must be held for writing
func (c *MemoryCache) sweepLocked(now time.Time) {
	c.writes = 0
	for key, entry := range c.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of stored entries, including expired ones not yet swept
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
