package observability

import "sync"

// countMap is a tiny concurrent counter keyed by string, backing the
// per-tool numbers in the JSON metrics snapshot.
type countMap struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func newCountMap() *countMap {
	return &countMap{counts: make(map[string]uint64)}
}

func (c *countMap) inc(key string) {
	c.mu.Lock()
	c.counts[key]++
	c.mu.Unlock()
}

func (c *countMap) snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
