// ABOUTME: Tests for the seen-event cache backing the sync redelivery guard.
// ABOUTME: Covers first-sight recording, TTL aging, capacity eviction, and races.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeen_RecordsOnFirstSight(t *testing.T) {
	c := New(5*time.Minute, 100)

	assert.False(t, c.Seen("$event:one"), "first sight must not count as seen")
	assert.True(t, c.Seen("$event:one"), "second sight is a redelivery")
	assert.False(t, c.Seen("$event:two"), "different id is independent")
	assert.Equal(t, 2, c.Len())
}

func TestSeen_EntriesAgeOut(t *testing.T) {
	c := New(15*time.Millisecond, 100)

	assert.False(t, c.Seen("$event:stale"))
	time.Sleep(30 * time.Millisecond)

	assert.False(t, c.Seen("$event:stale"), "expired entry is forgotten")
}

func TestSeen_CapacityEvictsOldestFirst(t *testing.T) {
	c := New(5*time.Minute, 3)

	for i := 0; i < 3; i++ {
		c.Seen(fmt.Sprintf("$event:%d", i))
	}
	// A fourth entry pushes out $event:0 only.
	c.Seen("$event:3")

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("$event:0"), "oldest entry was evicted")
	assert.True(t, c.Seen("$event:2"), "newer entries survive")
}

func TestSeen_ExpiredEntriesArePruned(t *testing.T) {
	c := New(15*time.Millisecond, 100)

	for i := 0; i < 10; i++ {
		c.Seen(fmt.Sprintf("$event:%d", i))
	}
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, c.Len(), "aged-out entries leave no residue")
}

func TestSeen_ConcurrentDeliveriesRecordOnce(t *testing.T) {
	c := New(5*time.Minute, 1000)

	const workers = 16
	var wg sync.WaitGroup
	firsts := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			firsts <- !c.Seen("$event:contended")
		}()
	}
	wg.Wait()
	close(firsts)

	got := 0
	for first := range firsts {
		if first {
			got++
		}
	}
	assert.Equal(t, 1, got, "exactly one delivery wins the race")
}
