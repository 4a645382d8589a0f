package klatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
)

const (
	defaultCacheTTL     = 5 * time.Minute
	defaultCacheMaxSize = 100
)

// ResultCache is a bounded fingerprint to result map with a time-to-live.
// Entries are evicted in insertion order; reads never refresh an entry and
// expired entries are dropped by the read that finds them. It is safe for
// concurrent use.
type ResultCache struct {
	mu      sync.Mutex
	entries *simplelru.LRU
	ttl     time.Duration
	maxSize int
	clock   Clock
}

// NewResultCache returns an empty cache. ttl and maxSize must be positive.
func NewResultCache(ttl time.Duration, maxSize int, clock Clock) (*ResultCache, error) {
	if err := validateCacheBounds(ttl, maxSize); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	entries, err := simplelru.NewLRU(maxSize, nil)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &ResultCache{
		entries: entries,
		ttl:     ttl,
		maxSize: maxSize,
		clock:   clock,
	}, nil
}

// Get returns the live entry for fp.
func (c *ResultCache) Get(fp string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Peek keeps the list in insertion order.
	v, ok := c.entries.Peek(fp)
	if !ok {
		return CacheEntry{}, false
	}
	entry := v.(CacheEntry)
	if c.clock.Now().Sub(entry.CreatedAt) > c.ttl {
		c.entries.Remove(fp)
		return CacheEntry{}, false
	}
	return entry, true
}

// Put stores entry under fp. When the cache is full and fp is new the oldest
// inserted entry is evicted. Replacing fp counts as a fresh insertion.
func (c *ResultCache) Put(fp string, entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.clock.Now()
	}
	if c.entries.Contains(fp) {
		// re-adding moves the key to the newest position
		c.entries.Remove(fp)
	}
	c.entries.Add(fp, entry)
}

// Clear removes every entry.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Len reports the number of stored entries, including expired ones not yet
// observed by a read.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Configure changes the TTL and the bound. Shrinking evicts the oldest
// entries until the new bound holds.
func (c *ResultCache) Configure(ttl time.Duration, maxSize int) error {
	if err := validateCacheBounds(ttl, maxSize); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
	c.maxSize = maxSize
	c.entries.Resize(maxSize)
	return nil
}

// TTL returns the current time-to-live.
func (c *ResultCache) TTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl
}

// MaxSize returns the current bound.
func (c *ResultCache) MaxSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

func validateCacheBounds(ttl time.Duration, maxSize int) error {
	if ttl <= 0 {
		return newClientError(ErrorTypeValidation, fmt.Sprintf("cache ttl must be positive, got %v", ttl), nil)
	}
	if maxSize <= 0 {
		return newClientError(ErrorTypeValidation, fmt.Sprintf("cache max size must be positive, got %d", maxSize), nil)
	}
	return nil
}
