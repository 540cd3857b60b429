// ABOUTME: Thread-safe TTL cache mapping idempotency keys to created agent ids.
// ABOUTME: Used by the HTTP create endpoint so client retries never create a second agent.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// State is the outcome of reserving a key.
type State int

const (
	// Claimed means the key was free and now belongs to the caller, who must
	// follow up with Complete or Release.
	Claimed State = iota
	// Pending means another request holds the key and has not finished.
	Pending
	// Completed means the key already maps to an agent id.
	Completed
)

// Claim is the result of Reserve.
type Claim struct {
	State   State
	AgentID string // set when State is Completed
}

type cacheEntry struct {
	timestamp time.Time
	agentID   string // empty while pending
	element   *list.Element
}

// Cache provides a thread-safe, TTL-based, size-limited map from idempotency
// key to agent id. Uses a doubly-linked list to maintain insertion order for
// O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Reserve atomically checks key and claims it if it is free or expired.
// This prevents two concurrent requests with the same key from both creating
// an agent.
func (c *Cache) Reserve(key string) Claim {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && c.live(entry) {
		if entry.agentID == "" {
			return Claim{State: Pending}
		}
		return Claim{State: Completed, AgentID: entry.agentID}
	}

	c.putLocked(key, "")
	return Claim{State: Claimed}
}

// Complete records the agent created for a claimed key.
func (c *Cache) Complete(key, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, agentID)
}

// Release drops a pending claim so the key can be retried.
// Completed keys are left alone.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.agentID != "" {
		return
	}
	c.order.Remove(entry.element)
	delete(c.entries, key)
}

// Lookup returns the agent id recorded for key, if completed and unexpired.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.live(entry) || entry.agentID == "" {
		return "", false
	}
	return entry.agentID, true
}

// Len returns the number of entries, including expired ones not yet cleaned up.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) live(entry *cacheEntry) bool {
	return time.Since(entry.timestamp) < c.ttl
}

// putLocked inserts or refreshes key. Must be called with mu held.
func (c *Cache) putLocked(key, agentID string) {
	now := time.Now()

	if entry, exists := c.entries[key]; exists {
		entry.timestamp = now
		entry.agentID = agentID
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		timestamp: now,
		agentID:   agentID,
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	interval := time.Minute
	if c.ttl > 0 && c.ttl < interval {
		interval = c.ttl
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

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if !c.live(entry) {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
