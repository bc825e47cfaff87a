package promptcache

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultMaxEntries = 64
	DefaultTTL        = 300 * time.Second
)

// Entry is a cached terminal response.
type Entry struct {
	Response map[string]any
	StoredAt time.Time
}

type cacheItem struct {
	key     string
	value   map[string]any
	expires time.Time
}

// Cache is an LRU cache with per-entry TTL. Values are deep-cloned on
// both Put and Get so cached state never aliases live request state.
type Cache struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	order   *list.List // front = most recent
	entries map[string]*list.Element

	now func() time.Time // injectable clock for tests

	hits   uint64
	misses uint64
}

// New returns a cache with the given capacity and TTL. Non-positive
// arguments take the defaults.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		max:     maxEntries,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Get returns a deep clone of the cached response, or nil when the key
// is absent or expired. Expired entries are removed on access.
func (c *Cache) Get(key string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	item := elem.Value.(*cacheItem)
	if c.now().After(item.expires) {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return nil
	}
	c.order.MoveToFront(elem)
	c.hits++
	return cloneMap(item.value)
}

// Put stores a deep clone of the response, evicting the least recently
// used entry when over capacity.
func (c *Cache) Put(key string, response map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		item := elem.Value.(*cacheItem)
		item.value = cloneMap(response)
		item.expires = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}
	elem := c.order.PushFront(&cacheItem{
		key:     key,
		value:   cloneMap(response),
		expires: c.now().Add(c.ttl),
	})
	c.entries[key] = elem
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheItem).key)
	}
}

// Len reports the number of live entries, counting expired ones that
// have not been touched yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats reports cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
