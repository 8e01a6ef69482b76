package lore

import (
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// normalizeQuery folds a query into a cache key: NFKC normalization,
// lower case, collapsed whitespace. "Kubernetes  Setup" and
// "kubernetes setup" embed identically, so they share a cache entry.
func normalizeQuery(q string) string {
	folded := norm.NFKC.String(q)
	folded = strings.ToLower(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// queryCache memoizes query embeddings by normalized query text. Eviction
// is whole-cache reset at capacity, which is enough for a cache this
// small and keeps the structure free of bookkeeping.
type queryCache struct {
	mu      sync.RWMutex
	max     int
	entries map[string][]float32
}

func newQueryCache(max int) *queryCache {
	if max <= 0 {
		max = 256
	}
	return &queryCache{max: max, entries: make(map[string][]float32)}
}

func (c *queryCache) get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.entries[key]
	return vec, ok
}

func (c *queryCache) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.entries = make(map[string][]float32)
	}
	c.entries[key] = vec
}
