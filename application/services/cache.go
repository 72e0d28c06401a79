package services

import (
	"sync"
	"time"

	"github.com/engramdb/engram/domain/core/entities"
)

// memoryCache is a small TTL cache in front of GetMemory. Entries are copied
// in and out so callers never share a pointer with the cache. The TTL is kept
// short because other processes can write to the same backend.
type memoryCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]cachedMemory
}

type cachedMemory struct {
	memory    entities.Memory
	expiresAt time.Time
}

func newMemoryCache(ttl time.Duration) *memoryCache {
	c := &memoryCache{
		ttl:   ttl,
		items: make(map[string]cachedMemory),
	}
	go c.janitor()
	return c
}

func (c *memoryCache) get(id string) (*entities.Memory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	if !ok || time.Now().After(item.expiresAt) {
		return nil, false
	}
	memory := item.memory
	return &memory, true
}

func (c *memoryCache) set(memory *entities.Memory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[memory.ID.String()] = cachedMemory{
		memory:    *memory,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *memoryCache) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
}

func (c *memoryCache) janitor() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for id, item := range c.items {
			if now.After(item.expiresAt) {
				delete(c.items, id)
			}
		}
		c.mu.Unlock()
	}
}
