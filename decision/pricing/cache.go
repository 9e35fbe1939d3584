package pricing

import (
	"strings"
	"sync"
	"time"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/units"
)

// DefaultCacheTTL is how long a resolved price stays fresh.
const DefaultCacheTTL = 24 * time.Hour

// CacheKey identifies a cached price by lower-cased item name and
// canonical unit.
type CacheKey struct {
	Name string
	Unit units.Unit
}

// NewCacheKey folds name and unit into a key.
func NewCacheKey(name string, unit units.Unit) CacheKey {
	return CacheKey{Name: api.ItemKey(name), Unit: unit}
}

// Cache is the tier-1 price cache. Implementations must be safe for
// concurrent use; concurrent writers of one key are last-write-wins.
type Cache interface {
	// Lookup returns a fresh exact match, else a fresh entry of the same
	// unit whose name extends, or is extended by, the key at a word boundary.
	Lookup(key CacheKey) (api.PriceQuote, bool)
	Set(key CacheKey, q api.PriceQuote)
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[CacheKey]cachedQuote
	ttl     time.Duration
	now     func() time.Time
}

type cachedQuote struct {
	quote     api.PriceQuote
	expiresAt time.Time
}

// NewMemoryCache creates a cache with the given TTL (DefaultCacheTTL if zero).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		entries: make(map[CacheKey]cachedQuote),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used in tests.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Lookup(key CacheKey) (api.PriceQuote, bool) {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		return e.quote, true
	}

	var (
		best    cachedQuote
		bestKey string
		found   bool
	)
	for k, e := range c.entries {
		if k.Unit != key.Unit || !now.Before(e.expiresAt) || !wordPrefix(k.Name, key.Name) {
			continue
		}
		// Prefer the longest name; break ties lexically for determinism.
		if !found || len(k.Name) > len(bestKey) || (len(k.Name) == len(bestKey) && k.Name < bestKey) {
			best, bestKey, found = e, k.Name, true
		}
	}
	return best.quote, found
}

func (c *MemoryCache) Set(key CacheKey, q api.PriceQuote) {
	c.mu.Lock()
	c.entries[key] = cachedQuote{quote: q, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Len returns the number of entries, fresh or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge drops expired entries and returns how many were removed.
func (c *MemoryCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// wordPrefix reports whether one of a, b is a prefix of the other ending
// at a word boundary.
func wordPrefix(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	return strings.HasPrefix(b, a) && (len(b) == len(a) || b[len(a)] == ' ')
}
