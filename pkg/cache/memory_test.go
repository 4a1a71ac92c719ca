package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(clock *fakeClock, maxSize int, ttl time.Duration, onEvict EvictionFunc) *MemoryCache {
	return NewMemoryCache(
		WithMemoryMaxSize(maxSize),
		WithMemoryTTL(ttl),
		WithMemoryCleanup(0),
		WithMemoryClock(clock.Now),
		WithMemoryEviction(onEvict),
	)
}

func TestMemoryCacheHitThenExpire(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mc := newTestCache(clock, 2, 5*time.Second, nil)
	defer mc.Close()

	mc.Set("A", "r1")

	clock.Advance(time.Second)
	v, ok := mc.Get("A")
	require.True(t, ok)
	assert.Equal(t, "r1", v)

	clock.Advance(5 * time.Second)
	_, ok = mc.Get("A")
	assert.False(t, ok)
	assert.Equal(t, 0, mc.Len(), "expired entry must be removed")

	s := mc.Stats()
	assert.EqualValues(t, 1, s.Hits)
	assert.EqualValues(t, 1, s.Misses)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
}

func TestMemoryCacheEvictsLowestAccessCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var evicted []string
	mc := newTestCache(clock, 3, time.Minute, func(key string) { evicted = append(evicted, key) })
	defer mc.Close()

	mc.Set("hot", 1)
	clock.Advance(time.Millisecond)
	mc.Set("warm", 2)
	clock.Advance(time.Millisecond)
	mc.Set("cold", 3)

	for i := 0; i < 3; i++ {
		mc.Get("hot")
	}
	mc.Get("warm")

	mc.Set("new", 4)

	assert.Equal(t, []string{"cold"}, evicted)
	assert.Equal(t, 3, mc.Len())
	_, ok := mc.Get("cold")
	assert.False(t, ok)
	assert.EqualValues(t, 1, mc.Stats().Evictions)
}

func TestMemoryCacheEvictionIgnoresRecency(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var evicted []string
	mc := newTestCache(clock, 2, time.Minute, func(key string) { evicted = append(evicted, key) })
	defer mc.Close()

	mc.Set("old-but-popular", 1)
	mc.Get("old-but-popular")
	mc.Get("old-but-popular")
	clock.Advance(time.Second)
	mc.Set("recent", 2)
	clock.Advance(time.Second)
	mc.Get("recent") // most recently used, still fewer hits

	mc.Set("third", 3)
	assert.Equal(t, []string{"recent"}, evicted)
}

func TestMemoryCacheOverwriteDoesNotEvict(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	evictions := 0
	mc := newTestCache(clock, 1, time.Minute, func(string) { evictions++ })
	defer mc.Close()

	mc.Set("A", 1)
	mc.Set("A", 2)

	v, ok := mc.Get("A")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Zero(t, evictions)
}

func TestMemoryCacheSizeNeverExceedsMax(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mc := newTestCache(clock, 10, time.Minute, nil)
	defer mc.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k-%d-%d", w, i)
				mc.Set(key, i)
				mc.Get(key)
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, mc.Len(), 10)
}

func TestMemoryCacheClearResetsCounters(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mc := newTestCache(clock, 4, time.Minute, nil)
	defer mc.Close()

	mc.Set("A", 1)
	mc.Get("A")
	mc.Get("B")
	mc.Clear()

	s := mc.Stats()
	assert.Zero(t, s.Size)
	assert.Zero(t, s.Hits)
	assert.Zero(t, s.Misses)
	assert.Zero(t, s.HitRate)
}

func TestHitRateZeroWithoutAccess(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	assert.Zero(t, mc.Stats().HitRate)
}

func TestMemoryCacheSetLeavesCountersAlone(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mc := newTestCache(clock, 4, time.Minute, nil)
	defer mc.Close()

	mc.Set("A", 1)
	mc.Get("A")
	mc.Set("A", 2)
	mc.Set("B", 3)

	s := mc.Stats()
	assert.EqualValues(t, 1, s.Hits)
	assert.Zero(t, s.Misses)
	assert.EqualValues(t, 1, mc.Hits("A"))
	assert.Zero(t, mc.Hits("B"))
}
