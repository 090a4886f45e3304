package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is an in-process LRU cache whose entries also expire after a TTL.
type Memory struct {
	capacity int
	ttl      time.Duration
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
	now      func() time.Time
}

type cacheEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// NewMemory creates a cache holding at most capacity entries. A ttl of zero never expires.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}
}

// Get returns the cached payload for key if present and not expired.
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[key]
	if !ok {
		return nil, false, nil
	}
	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && !c.now().Before(entry.expires) {
		c.lru.Remove(elem)
		delete(c.cache, key)
		return nil, false, nil
	}
	c.lru.MoveToFront(elem)
	return entry.value, true, nil
}

// Put stores value for key, evicting the least recently used entry if at capacity.
func (c *Memory) Put(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expires = expires
		return nil
	}

	entry := &cacheEntry{key: key, value: value, expires: expires}
	elem := c.lru.PushFront(entry)
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
