// ABOUTME: Thread-safe TTL cache mapping client request ids to the task ids they created.
// ABOUTME: Used by the router to make submit_task idempotent for retried requests.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	value     string
	timestamp time.Time
	element   *list.Element
}

// Cache is a TTL-based, size-limited map from request id to task id.
// A linked list keeps insertion order so eviction of the oldest entry is O(1).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size and starts the
// background sweeper. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	return newCache(ttl, maxSize, time.Now)
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Lookup returns the value stored for key if it has not expired.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.expired(entry) {
		return "", false
	}
	return entry.value, true
}

// Store records value for key, replacing any previous value.
func (c *Cache) Store(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(key, value)
}

// Forget drops key. Used when the work a key reserved could not be created.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.order.Remove(entry.element)
		delete(c.entries, key)
	}
}

// Len returns the number of stored entries, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Must be called with mu held.
func (c *Cache) storeLocked(key, value string) {
	now := c.now()

	if entry, exists := c.entries[key]; exists {
		entry.value = value
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		value:     value,
		timestamp: now,
		element:   elem,
	}
}

func (c *Cache) expired(entry *cacheEntry) bool {
	return c.now().Sub(entry.timestamp) >= c.ttl
}

// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *Cache) cleanup() {
	interval := c.ttl
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if c.expired(entry) {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
