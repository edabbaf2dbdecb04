// ABOUTME: Remembers recently handled event ids so sync redelivery is a no-op.
// ABOUTME: Entries age out by TTL; the table is capped by evicting the oldest.

package dedupe

import (
	"sync"
	"time"
)

// Cache tracks recently seen event ids. Matrix sync redelivers events after
// reconnects and token resets; a Seen hit means the event was already handled
// and must be dropped. Ids are assumed unique, so an entry's expiry is fixed
// at first sight and never refreshed.
type Cache struct {
	ttl time.Duration
	max int

	mu      sync.Mutex
	expires map[string]time.Time
	// order holds keys oldest-first. Each key appears exactly once, so it
	// doubles as both the TTL prune cursor and the capacity eviction queue.
	order []string
}

// New creates a cache that forgets entries after ttl and never holds more
// than max of them. Expired entries are pruned lazily on each Seen call;
// there is no background goroutine to stop.
func New(ttl time.Duration, max int) *Cache {
	return &Cache{
		ttl:     ttl,
		max:     max,
		expires: make(map[string]time.Time),
	}
}

// Seen reports whether key was already recorded and still live, recording it
// if not. The check and the record are one critical section, so two deliveries
// of the same event racing each other still yield exactly one false.
func (c *Cache) Seen(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(now)

	if expiry, ok := c.expires[key]; ok && now.Before(expiry) {
		return true
	}

	if len(c.expires) >= c.max {
		c.evictOldestLocked()
	}
	c.expires[key] = now.Add(c.ttl)
	c.order = append(c.order, key)
	return false
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(time.Now())
	return len(c.expires)
}

// pruneLocked drops expired entries from the front of the queue. Insertion
// order matches expiry order because the TTL is constant.
func (c *Cache) pruneLocked(now time.Time) {
	i := 0
	for ; i < len(c.order); i++ {
		key := c.order[i]
		expiry, ok := c.expires[key]
		if ok && now.Before(expiry) {
			break
		}
		delete(c.expires, key)
	}
	c.order = c.order[i:]
}

func (c *Cache) evictOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	delete(c.expires, c.order[0])
	c.order = c.order[1:]
}
