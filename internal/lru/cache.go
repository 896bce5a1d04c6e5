// Package lru implements a generic, thread-safe LRU cache with optional
// entry expiry.
//
// Get, Put, GetOrPut and Len are O(1): a hash map gives key lookup and a
// doubly linked list keeps eviction order. Expired entries are dropped
// lazily when touched.
package lru

import (
	"sync"
	"time"
)

// node is a doubly linked list node holding a key-value pair.
type node[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time // zero means never
	prev    *node[K, V]
	next    *node[K, V]
}

// Metrics counts cache activity since creation.
type Metrics struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithTTL sets the lifetime of stored entries. Storing a key again resets
// its lifetime.
func WithTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.ttl = ttl }
}

// WithOnEvict registers a callback for entries removed by capacity
// pressure or expiry. It runs after the cache lock is released.
func WithOnEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// Cache is a generic, thread-safe LRU cache.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	onEvict  func(K, V)
	now      func() time.Time
	items    map[K]*node[K, V]
	head     *node[K, V] // most recently used (sentinel)
	tail     *node[K, V] // least recently used (sentinel)
	metrics  Metrics
}

type evicted[K comparable, V any] struct {
	key K
	val V
}

// New creates an LRU cache with the given capacity.
// Panics if capacity < 1.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}

	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head

	c := &Cache[K, V]{
		capacity: capacity,
		now:      time.Now,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value by key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	n, gone := c.lookup(key)
	var val V
	ok := n != nil
	if ok {
		c.moveToFront(n)
		c.metrics.Hits++
		val = n.val
	} else {
		c.metrics.Misses++
	}
	c.mu.Unlock()

	c.notify(gone)
	return val, ok
}

// Put inserts or updates a key-value pair. If the cache is full the least
// recently used entry is evicted and returned.
func (c *Cache[K, V]) Put(key K, val V) (K, V, bool) {
	c.mu.Lock()
	ev, ok := c.put(key, val)
	c.mu.Unlock()

	if ok {
		c.notify([]evicted[K, V]{ev})
	}
	return ev.key, ev.val, ok
}

// GetOrPut returns the live value for key, or stores and returns the
// result of create. loaded reports whether the value already existed.
func (c *Cache[K, V]) GetOrPut(key K, create func() V) (val V, loaded bool) {
	c.mu.Lock()
	n, gone := c.lookup(key)
	if n != nil {
		c.moveToFront(n)
		c.metrics.Hits++
		c.mu.Unlock()
		c.notify(gone)
		return n.val, true
	}
	c.metrics.Misses++
	val = create()
	if ev, ok := c.put(key, val); ok {
		gone = append(gone, ev)
	}
	c.mu.Unlock()

	c.notify(gone)
	return val, false
}

// Len returns the number of stored entries, expired ones included until
// they are touched.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Metrics returns a snapshot of the counters.
func (c *Cache[K, V]) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// --- internal operations (caller must hold lock) ---

// lookup returns the live node for key. An expired node is removed and
// returned in gone.
func (c *Cache[K, V]) lookup(key K) (*node[K, V], []evicted[K, V]) {
	n, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	if c.expired(n) {
		c.remove(n)
		delete(c.items, key)
		c.metrics.Expirations++
		return nil, []evicted[K, V]{{key: n.key, val: n.val}}
	}
	return n, nil
}

func (c *Cache[K, V]) put(key K, val V) (evicted[K, V], bool) {
	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}

	if n, ok := c.items[key]; ok {
		n.val = val
		n.expires = expires
		c.moveToFront(n)
		return evicted[K, V]{}, false
	}

	var ev evicted[K, V]
	didEvict := false
	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.remove(victim)
		delete(c.items, victim.key)
		c.metrics.Evictions++
		ev = evicted[K, V]{key: victim.key, val: victim.val}
		didEvict = true
	}

	n := &node[K, V]{key: key, val: val, expires: expires}
	c.items[key] = n
	c.pushFront(n)
	return ev, didEvict
}

func (c *Cache[K, V]) expired(n *node[K, V]) bool {
	return !n.expires.IsZero() && !c.now().Before(n.expires)
}

// notify runs the eviction callback. Called without the lock held.
func (c *Cache[K, V]) notify(gone []evicted[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, ev := range gone {
		c.onEvict(ev.key, ev.val)
	}
}

// remove detaches a node from the list.
func (c *Cache[K, V]) remove(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

// pushFront inserts a node right after head sentinel.
func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

// moveToFront detaches and reinserts a node at front.
func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	c.remove(n)
	c.pushFront(n)
}
