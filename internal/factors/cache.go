package factors

import (
	"fmt"
	"sync"

	"github.com/quantagrify/terrafactor/internal/contracts"
)

// Cache memoizes factor series by content identity: the definition's
// content key plus the version of the aligned snapshot it was computed
// over. Changing only the on-screen factor selection therefore never
// recomputes a series; changing the inputs always does.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]contracts.Series
	hits    uint64
	misses  uint64
}

// NewCache creates an empty factor cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]contracts.Series),
	}
}

func cacheKey(def contracts.FactorDefinition, inputVersion uint64) string {
	return fmt.Sprintf("%s@v%d", def.ContentKey(), inputVersion)
}

// Get returns the memoized series for the definition and input
// snapshot, if present.
func (c *Cache) Get(def contracts.FactorDefinition, inputVersion uint64) (contracts.Series, bool) {
	c.mu.RLock()
	series, ok := c.entries[cacheKey(def, inputVersion)]
	c.mu.RUnlock()

	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	return series, ok
}

// Put stores a computed series.
func (c *Cache) Put(def contracts.FactorDefinition, inputVersion uint64, series contracts.Series) {
	c.mu.Lock()
	c.entries[cacheKey(def, inputVersion)] = series
	c.mu.Unlock()
}

// Stats returns hit/miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Reset drops all entries and counters.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]contracts.Series)
	c.hits = 0
	c.misses = 0
}
