// Package cache provides the in-process summary cache used by the chat
// orchestrator. Entries expire a fixed duration after write and the cache
// is capacity-bounded with LRU eviction, so a burst of active chats can
// never grow it without limit.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// SummaryCache is a thread-safe bounded TTL cache keyed by chat ID.
//
// Description:
//
//	Fixed-size cache with write-expiry. A read past the entry's deadline
//	counts as a miss and drops the entry. When the cache is full, the
//	least recently used entry is evicted to make room.
//
// Thread Safety: All methods are safe for concurrent use.
type SummaryCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // Front = most recent, Back = least recent

	// Stats (atomic for lock-free reads)
	hits   atomic.Int64
	misses atomic.Int64

	// now is swapped in tests to drive expiry deterministically.
	now func() time.Time
}

type summaryEntry struct {
	chatID    string
	summary   string
	expiresAt time.Time
}

// NewSummaryCache creates a cache holding at most capacity entries, each
// valid for ttl after write.
func NewSummaryCache(capacity int, ttl time.Duration) *SummaryCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &SummaryCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached summary for a chat, if present and fresh.
func (c *SummaryCache) Get(chatID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[chatID]
	if !ok {
		c.misses.Add(1)
		return "", false
	}

	entry := elem.Value.(*summaryEntry)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(elem)
		c.misses.Add(1)
		return "", false
	}

	c.order.MoveToFront(elem)
	c.hits.Add(1)
	return entry.summary, true
}

// Put stores a summary, resetting its expiry. An existing entry for the
// chat is overwritten.
func (c *SummaryCache) Put(chatID, summary string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if elem, ok := c.items[chatID]; ok {
		entry := elem.Value.(*summaryEntry)
		entry.summary = summary
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}

	elem := c.order.PushFront(&summaryEntry{
		chatID:    chatID,
		summary:   summary,
		expiresAt: expiresAt,
	})
	c.items[chatID] = elem
}

// Invalidate drops the entry for a chat, if any.
func (c *SummaryCache) Invalidate(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[chatID]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the current entry count, counting entries that have expired
// but not yet been read.
func (c *SummaryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cumulative hit and miss counts.
func (c *SummaryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *SummaryCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*summaryEntry)
	delete(c.items, entry.chatID)
	c.order.Remove(elem)
}
