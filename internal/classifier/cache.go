package classifier

import "sync"

// maxCacheEntries bounds the lookup cache so a flood of distinct,
// attacker-controlled user-agent strings cannot grow it without limit.
const maxCacheEntries = 10000

// Cache memoizes Classify results for repeated user-agent strings, which
// is the common case on the webhook hot path (a handful of client builds
// generate the overwhelming majority of traffic).
type Cache struct {
	mu    sync.RWMutex
	known map[string]Class
}

// NewCache creates an empty classification cache.
func NewCache() *Cache {
	return &Cache{known: make(map[string]Class)}
}

// Classify returns the cached class for userAgent, computing and storing
// it via Classify on a miss.
func (c *Cache) Classify(userAgent string) Class {
	c.mu.RLock()
	class, ok := c.known[userAgent]
	c.mu.RUnlock()
	if ok {
		return class
	}

	class = Classify(userAgent)

	c.mu.Lock()
	if len(c.known) < maxCacheEntries {
		c.known[userAgent] = class
	}
	c.mu.Unlock()

	return class
}
