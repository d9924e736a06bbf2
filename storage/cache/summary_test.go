package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetAfterPut(t *testing.T) {
	c := NewSummaryCache(10, time.Minute)

	c.Put("chat-1", "summary of chat one")

	got, ok := c.Get("chat-1")
	assert.True(t, ok)
	assert.Equal(t, "summary of chat one", got)
}

func TestMissOnUnknownKey(t *testing.T) {
	c := NewSummaryCache(10, time.Minute)

	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := NewSummaryCache(10, time.Minute)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Put("chat-1", "stale soon")

	c.now = func() time.Time { return base.Add(61 * time.Second) }
	_, ok := c.Get("chat-1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestPutResetsExpiry(t *testing.T) {
	c := NewSummaryCache(10, time.Minute)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Put("chat-1", "v1")

	c.now = func() time.Time { return base.Add(50 * time.Second) }
	c.Put("chat-1", "v2")

	c.now = func() time.Time { return base.Add(90 * time.Second) }
	got, ok := c.Get("chat-1")
	assert.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewSummaryCache(3, time.Minute)

	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("c", "3")

	// Touch "a" so "b" becomes the eviction candidate.
	_, _ = c.Get("a")

	c.Put("d", "4")

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestInvalidate(t *testing.T) {
	c := NewSummaryCache(10, time.Minute)

	c.Put("chat-1", "gone soon")
	c.Invalidate("chat-1")
	c.Invalidate("chat-1") // idempotent

	_, ok := c.Get("chat-1")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := NewSummaryCache(100, time.Minute)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("chat-%d", j%50)
				c.Put(key, "s")
				c.Get(key)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.LessOrEqual(t, c.Len(), 100)
}
