package odm

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EntityCache is the identity map of live entities. It holds at most one
// instance per (model, id), so every fetch of a stored document returns the
// same object until the entity is deleted. The cache is unbounded.
type EntityCache struct {
	mu      sync.Mutex
	entries map[cacheKey]*Entity
}

type cacheKey struct {
	model, id string
}

// NewEntityCache returns an empty cache.
func NewEntityCache() *EntityCache {
	return &EntityCache{entries: make(map[cacheKey]*Entity)}
}

// Get returns the cached entity, or nil.
func (c *EntityCache) Get(model, id string) *Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[cacheKey{model, id}]
}

// Put registers e. It fails with a *CacheError if an entity is already
// cached for the same model and id.
func (c *EntityCache) Put(e *Entity) error {
	key := cacheKey{e.Model(), e.ID()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return &CacheError{Model: key.model, ID: key.id, Op: "put"}
	}
	c.entries[key] = e
	return nil
}

// loadOrStore returns the cached entity for e's key, or stores e.
func (c *EntityCache) loadOrStore(e *Entity) *Entity {
	key := cacheKey{e.Model(), e.ID()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.entries[key]; ok {
		return cached
	}
	c.entries[key] = e
	return e
}

// Remove evicts e. It fails with a *CacheError if e is new or is not the
// cached instance.
func (c *EntityCache) Remove(e *Entity) error {
	if e.ID() == "" {
		return &CacheError{Model: e.Model(), Op: "remove"}
	}
	key := cacheKey{e.Model(), e.ID()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[key] != e {
		return &CacheError{Model: key.model, ID: key.id, Op: "remove"}
	}
	delete(c.entries, key)
	return nil
}

// Len returns the number of cached entities.
func (c *EntityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear evicts every entity.
func (c *EntityCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Cache is the interface for caching query results.
// Users should implement this interface with their preferred caching solution
// (e.g., Redis, Memcached, in-memory).
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// CacheKey generates a cache key for a query.
type CacheKey struct {
	Collection string
	Operation  string
	Predicates string
	OrderBy    string
	Limit      int
	Offset     int
}

// String returns the string representation of the cache key. Keys of one
// collection share the CachePrefix of the collection.
func (k CacheKey) String() string {
	return CachePrefix(k.Collection) + strings.Join([]string{
		k.Operation,
		k.Predicates,
		k.OrderBy,
		strconv.Itoa(k.Limit),
		strconv.Itoa(k.Offset),
	}, ":")
}

// CachePrefix returns the key prefix of the query results of a collection.
func CachePrefix(collection string) string {
	return collection + ":"
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

// Get implements the Cache interface.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	if !it.expires.IsZero() && !c.now().Before(it.expires) {
		delete(c.items, key)
		return nil, nil
	}
	return it.value, nil
}

// Set implements the Cache interface.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := memoryItem{value: value}
	if ttl > 0 {
		it.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = it
	return nil
}

// Delete implements the Cache interface.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// DeletePrefix implements the Cache interface.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	return nil
}

// Clear implements the Cache interface.
func (c *MemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
	return nil
}

var _ Cache = (*MemoryCache)(nil)
