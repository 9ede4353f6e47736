// Package memocache provides a size-bounded, time-boxed memoization store.
// Entries expire after a TTL and the oldest-inserted entry is evicted when
// the store is full, so the cache never grows past its configured size.
package memocache

import (
	"sync"
	"time"
)

// DefaultMaxSize is the default number of live entries.
const DefaultMaxSize = 1024

// DefaultTTL is the default entry lifetime.
const DefaultTTL = time.Hour

// Options configures a Cache.
type Options struct {
	MaxSize       int           // Maximum live entries; 0 uses DefaultMaxSize
	DefaultTTL    time.Duration // TTL for Set/Do; 0 uses DefaultTTL
	SweepInterval time.Duration // Periodic expiry sweep; 0 disables the sweeper
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a TTL-boxed memoization store with insertion-order eviction.
// All methods are safe for concurrent use.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	queue      []string // insertion order of live keys
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache. When opts.SweepInterval is positive, a background
// sweeper removes expired entries that are never read again.
func New[V any](opts Options) *Cache[V] {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}

	c := &Cache[V]{
		entries:    make(map[string]entry[V]),
		maxSize:    opts.MaxSize,
		defaultTTL: opts.DefaultTTL,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		go c.sweeper(opts.SweepInterval)
	}
	return c
}

// Get returns the live value for key. Expired entries are treated as absent
// and removed as a side effect.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(key)
		return zero, false
	}
	return e.value, true
}

// Has reports whether a live entry exists for key.
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key. At capacity, the oldest-inserted entry is
// evicted before the insert completes. Re-setting an existing key updates
// the value without changing its eviction order.
func (c *Cache[V]) SetTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	if _, exists := c.entries[key]; exists {
		c.entries[key] = e
		return
	}

	if len(c.entries) >= c.maxSize {
		c.removeLocked(c.queue[0])
	}
	c.entries[key] = e
	c.queue = append(c.queue, key)
}

// Delete removes the entry for key, if any.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background sweeper. Idempotent.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Do memoizes compute under key: a live cached value short-circuits, a miss
// computes and writes through with the default TTL. Errors are not cached.
// Concurrent calls sharing a cold key each run their own computation; the
// last write wins.
func Do[V any](c *Cache[V], key string, compute func() (V, error)) (V, error) {
	return DoTTL(c, key, 0, compute)
}

// DoTTL is Do with an explicit TTL for the computed value.
func DoTTL[V any](c *Cache[V], key string, ttl time.Duration, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}
	c.SetTTL(key, v, ttl)
	return v, nil
}

// removeLocked deletes key from the map and the insertion queue.
// Caller holds the lock.
func (c *Cache[V]) removeLocked(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.queue {
		if k == key {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
}

// sweeper periodically removes all expired entries so keys that are never
// re-read do not pin memory until eviction.
func (c *Cache[V]) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(key)
		}
	}
}
