package armada

import (
	"context"
	"strings"
	"sync"
	"time"
)

// cachePurgeBatch bounds how many keys a prefix purge touches per pass,
// so Clear on a large cache does not blow the heap.
const cachePurgeBatch = 1000

// Cache is the lookaside layer in front of a durable Memory. Values are
// the serialized storage form.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration)
	Delete(key string)
	// Keys returns up to limit keys with the given prefix.
	Keys(prefix string, limit int) []string
}

// GroupInvalidator is an optional Cache capability: dropping a whole key
// group in one call (cache tags). When absent, CachedMemory enumerates
// and purges by prefix in bounded batches.
type GroupInvalidator interface {
	InvalidateGroup(group string)
}

// CachedMemory is a write-through cache over a durable Memory. On Store
// the durable store is updated first, then the cache; Forget and Clear
// invalidate both sides.
type CachedMemory struct {
	inner  Memory
	cache  Cache
	prefix string
	ttl    time.Duration
}

// NewCachedMemory wraps inner with cache. prefix namespaces this store's
// keys within a shared cache; ttl bounds cache entry lifetime (zero means
// cache forever, subject to the record's own expiry).
func NewCachedMemory(inner Memory, cache Cache, prefix string, ttl time.Duration) *CachedMemory {
	if prefix == "" {
		prefix = "armada_memory:"
	}
	return &CachedMemory{inner: inner, cache: cache, prefix: prefix, ttl: ttl}
}

func (m *CachedMemory) cacheKey(key string) string { return m.prefix + key }

// Store upserts into the durable store first, then refreshes the cache.
func (m *CachedMemory) Store(ctx context.Context, key string, data any, metadata map[string]any, ttl time.Duration) error {
	if err := m.inner.Store(ctx, key, data, metadata, ttl); err != nil {
		return err
	}
	encoded, err := EncodeMemoryValue(data)
	if err != nil {
		return err
	}
	cacheTTL := m.ttl
	if ttl > 0 && (cacheTTL == 0 || ttl < cacheTTL) {
		cacheTTL = ttl
	}
	m.cache.Set(m.cacheKey(key), encoded, cacheTTL)
	return nil
}

// Recall consults the cache first, falling back to the durable store and
// refilling on a hit.
func (m *CachedMemory) Recall(ctx context.Context, key string) (any, error) {
	if encoded, ok := m.cache.Get(m.cacheKey(key)); ok {
		return DecodeMemoryValue(encoded)
	}
	data, err := m.inner.Recall(ctx, key)
	if err != nil || data == nil {
		return data, err
	}
	if encoded, err := EncodeMemoryValue(data); err == nil {
		m.cache.Set(m.cacheKey(key), encoded, m.ttl)
	}
	return data, nil
}

// Search always hits the durable store; substring search is not cacheable.
func (m *CachedMemory) Search(ctx context.Context, query string, limit int) ([]MemoryRecord, error) {
	return m.inner.Search(ctx, query, limit)
}

// Forget invalidates both sides.
func (m *CachedMemory) Forget(ctx context.Context, key string) error {
	if err := m.inner.Forget(ctx, key); err != nil {
		return err
	}
	m.cache.Delete(m.cacheKey(key))
	return nil
}

// Clear empties the durable store and the cache's view of it. Caches that
// support group invalidation drop the whole prefix in one call; otherwise
// keys are enumerated and purged in batches of at most cachePurgeBatch.
func (m *CachedMemory) Clear(ctx context.Context) error {
	if err := m.inner.Clear(ctx); err != nil {
		return err
	}
	if gi, ok := m.cache.(GroupInvalidator); ok {
		gi.InvalidateGroup(m.prefix)
		return nil
	}
	for {
		keys := m.cache.Keys(m.prefix, cachePurgeBatch)
		if len(keys) == 0 {
			return nil
		}
		for _, k := range keys {
			m.cache.Delete(k)
		}
		if len(keys) < cachePurgeBatch {
			return nil
		}
	}
}

// Has checks the cache, then the durable store.
func (m *CachedMemory) Has(ctx context.Context, key string) (bool, error) {
	if _, ok := m.cache.Get(m.cacheKey(key)); ok {
		return true, nil
	}
	return m.inner.Has(ctx, key)
}

// Stats delegates to the durable store.
func (m *CachedMemory) Stats(ctx context.Context) (MemoryStats, error) {
	return m.inner.Stats(ctx)
}

// Cleanup delegates to the durable store. Cache entries for expired
// records age out via their own TTL.
func (m *CachedMemory) Cleanup(ctx context.Context) (int, error) {
	return m.inner.Cleanup(ctx)
}

var _ Memory = (*CachedMemory)(nil)

// --- in-process cache ---

type mapCacheEntry struct {
	value     string
	expiresAt int64 // unix nanos; 0 = no expiry
}

// MapCache is an in-process Cache backed by a mutex-guarded map. Safe for
// concurrent use. Suitable as the default lookaside layer when no shared
// cache is configured.
type MapCache struct {
	mu      sync.RWMutex
	entries map[string]mapCacheEntry
}

// NewMapCache creates an empty MapCache.
func NewMapCache() *MapCache {
	return &MapCache{entries: make(map[string]mapCacheEntry)}
}

func (c *MapCache) Get(key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if e.expiresAt > 0 && e.expiresAt <= time.Now().UnixNano() {
		c.Delete(key)
		return "", false
	}
	return e.value, true
}

func (c *MapCache) Set(key, value string, ttl time.Duration) {
	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}
	c.mu.Lock()
	c.entries[key] = mapCacheEntry{value: value, expiresAt: exp}
	c.mu.Unlock()
}

func (c *MapCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *MapCache) Keys(prefix string, limit int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

var _ Cache = (*MapCache)(nil)
