package catalog

import (
	"strconv"
	"sync"
)

// Query keys. Each logical query maps to exactly one cache entry.
const (
	KeyAllProducts = "all-products"
	KeyCategories  = "categories"
)

// ProductKey is the cache key of a single product lookup.
func ProductKey(id int) string {
	return "product-" + strconv.Itoa(id)
}

// CategoryKey is the cache key of a category listing.
func CategoryKey(category string) string {
	return "category-" + category
}

// Cache stores decoded catalog payloads by query key. Entries never expire:
// the first successful fetch of a key is served for the life of the cache.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, v any)
	Len() int
}

var _ Cache = (*MemoryCache)(nil)

// MemoryCache is an unbounded, mutex guarded Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]any)}
}

// Get returns the payload stored under key.
func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Set stores v under key, replacing any previous payload.
func (c *MemoryCache) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
}

// Len returns the number of cached keys.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
