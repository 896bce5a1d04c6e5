package lru

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a settable time source for expiry tests.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClocked[K comparable, V any](capacity int, opts ...Option[K, V]) (*Cache[K, V], *clock) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := New[K, V](capacity, opts...)
	c.now = clk.Now
	return c, clk
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	// Touch a so b becomes the eviction victim.
	_, ok := c.Get("a")
	require.True(t, ok)

	k, v, evicted := c.Put("c", 3)
	require.True(t, evicted)
	assert.Equal(t, "b", k)
	assert.Equal(t, 2, v)
	assert.Equal(t, uint64(1), c.Metrics().Evictions)

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_UpdateDoesNotEvict(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	_, _, evicted := c.Put("a", 10)
	assert.False(t, evicted)
	assert.Equal(t, 2, c.Len())

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestCache_UpdateRefreshesRecency(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 11)

	k, _, evicted := c.Put("c", 3)
	require.True(t, evicted)
	assert.Equal(t, "b", k)
}

func TestCache_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[string, int](0) })
}

func TestCache_TTLExpiry(t *testing.T) {
	var gone []string
	c, clk := newClocked[string, int](4,
		WithTTL[string, int](time.Minute),
		WithOnEvict[string, int](func(k string, _ int) { gone = append(gone, k) }),
	)
	c.Put("a", 1)

	clk.Advance(30 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok)

	clk.Advance(time.Minute)
	assert.Equal(t, 1, c.Len(), "expired entries linger until touched")
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, gone)
	assert.Zero(t, c.Len())

	m := c.Metrics()
	assert.Equal(t, uint64(1), m.Expirations)
	assert.Equal(t, uint64(1), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
}

func TestCache_NoTTLNeverExpires(t *testing.T) {
	c, clk := newClocked[string, int](1)
	c.Put("a", 1)
	clk.Advance(1000 * time.Hour)
	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestCache_UpdateResetsTTL(t *testing.T) {
	c, clk := newClocked[string, int](2, WithTTL[string, int](time.Minute))
	c.Put("a", 1)

	clk.Advance(50 * time.Second)
	c.Put("a", 2)
	clk.Advance(50 * time.Second)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCache_OnEvictForCapacity(t *testing.T) {
	var evicted []string
	c := New[string, int](1, WithOnEvict[string, int](func(k string, _ int) {
		evicted = append(evicted, k)
	}))
	c.Put("a", 1)
	c.Put("b", 2)
	c.GetOrPut("c", func() int { return 3 })
	assert.Equal(t, []string{"a", "b"}, evicted)
}

func TestCache_GetOrPut(t *testing.T) {
	c, clk := newClocked[string, int](2, WithTTL[string, int](time.Minute))
	calls := 0
	create := func() int { calls++; return calls * 10 }

	v, loaded := c.GetOrPut("a", create)
	assert.False(t, loaded)
	assert.Equal(t, 10, v)

	v, loaded = c.GetOrPut("a", create)
	assert.True(t, loaded)
	assert.Equal(t, 10, v)
	assert.Equal(t, 1, calls)

	clk.Advance(2 * time.Minute)
	v, loaded = c.GetOrPut("a", create)
	assert.False(t, loaded, "expired entries are recreated")
	assert.Equal(t, 20, v)
	assert.Equal(t, uint64(1), c.Metrics().Expirations)
}

func TestMetrics_HitRate(t *testing.T) {
	assert.Zero(t, Metrics{}.HitRate())
	assert.InDelta(t, 0.75, Metrics{Hits: 3, Misses: 1}.HitRate(), 1e-9)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int, int](64, WithTTL[int, int](time.Minute))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := (g*500 + i) % 128
				c.Put(k, i)
				c.Get(k)
				c.GetOrPut(k+1, func() int { return i })
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

func BenchmarkGetOrPut(b *testing.B) {
	c := New[string, int](1024)
	keys := make([]string, 2048)
	for i := range keys {
		keys[i] = fmt.Sprintf("client-%d", i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.GetOrPut(keys[i%len(keys)], func() int { return i })
	}
}
