package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// DefaultMaxEntries bounds a LocalCache created with no explicit size.
const DefaultMaxEntries = 256

// LocalCache is an in-memory, least recently used cache.
type LocalCache struct {
	mu      sync.Mutex
	entries *lru.Cache
}

// NewLocalCache creates a new in-memory cache holding at most max entries.
func NewLocalCache(max int) *LocalCache {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &LocalCache{entries: lru.New(max)}
}

func (c *LocalCache) Get(key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (c *LocalCache) Set(key, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, code)
	return nil
}

func (c *LocalCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Clear()
	return nil
}

// Len returns the number of cached entries.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
