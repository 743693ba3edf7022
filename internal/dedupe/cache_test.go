// ABOUTME: Tests for the dedupe cache used to suppress duplicate events
// ABOUTME: Validates TTL expiration, size limits, eviction order and concurrent CheckAndMark

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_CheckNotSeen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Check("never-seen-key"))
}

func TestCache_MarkThenCheck(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Mark("$event:server")
	assert.True(t, cache.Check("$event:server"))
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Expiry(t *testing.T) {
	cache := New(20*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("expiring-key")
	assert.True(t, cache.Check("expiring-key"))

	assert.Eventually(t, func() bool {
		return !cache.Check("expiring-key")
	}, time.Second, 5*time.Millisecond)

	// An expired key counts as new again.
	assert.False(t, cache.CheckAndMark("expiring-key"))
}

func TestCache_CheckAndMark(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("key"), "first sighting is new")
	assert.True(t, cache.CheckAndMark("key"), "second sighting is a duplicate")
	assert.True(t, cache.Check("key"))
}

func TestCache_Forget(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Mark("key")
	cache.Forget("key")
	assert.False(t, cache.Check("key"))
}

func TestCache_EvictsLeastRecentlyMarked(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Mark("a")
	cache.Mark("b")
	cache.Mark("c")
	// Re-marking a makes b the oldest.
	cache.Mark("a")
	cache.Mark("d")

	assert.True(t, cache.Check("a"))
	assert.False(t, cache.Check("b"))
	assert.True(t, cache.Check("c"))
	assert.True(t, cache.Check("d"))
	assert.Equal(t, 3, cache.Len())
}

func TestCache_CheckAndMarkIsAtomic(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("contended") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)
	cache.Mark("key")

	cache.Close()
	cache.Close()

	assert.False(t, cache.Check("key"))
	cache.Mark("other")
	assert.False(t, cache.Check("other"))
}
