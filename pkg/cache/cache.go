// Package cache provides thread-safe caching with TTL support, LRU eviction,
// and coalescing of concurrent loads for the same key.
package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxEntries is the capacity used when Config.MaxEntries is unset.
const DefaultMaxEntries = 500

// entry holds a cached value with expiration.
type entry struct {
	value      any
	expiration time.Time
}

// Config holds cache settings.
type Config struct {
	Clock      func() time.Time // defaults to time.Now
	MaxEntries int              // defaults to DefaultMaxEntries
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Loads     int64
	Evictions int64
	Entries   int
}

// Cache is a TTL cache with least-recently-used eviction. Concurrent loads of
// one key share a single loader call. Keys are not namespaced: callers must pick
// collision-free keys.
type Cache struct {
	store     *lru.Cache[string, entry]
	now       func() time.Time
	group     singleflight.Group
	hits      atomic.Int64
	misses    atomic.Int64
	loads     atomic.Int64
	evictions atomic.Int64
}

// New creates a cache bounded to cfg.MaxEntries entries.
func New(cfg Config) *Cache {
	size := cfg.MaxEntries
	if size <= 0 {
		size = DefaultMaxEntries
	}
	store, err := lru.New[string, entry](size)
	if err != nil {
		// Only reachable with a non-positive size, which is excluded above.
		panic(err)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, now: now}
}

// Configure updates the capacity, trimming least-recently-used entries immediately.
func (c *Cache) Configure(cfg Config) {
	size := cfg.MaxEntries
	if size <= 0 {
		size = DefaultMaxEntries
	}
	if evicted := c.store.Resize(size); evicted > 0 {
		c.evictions.Add(int64(evicted))
		slog.Debug("Cache resized", "component", "cache", "max_entries", size, "evicted", evicted)
	}
}

// Len returns the number of stored entries, including expired ones not yet overwritten.
func (c *Cache) Len() int {
	return c.store.Len()
}

// Purge removes every entry.
func (c *Cache) Purge() {
	c.store.Purge()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loads.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.store.Len(),
	}
}

// Get retrieves a value from cache if not expired. A hit moves the key to the
// most-recently-used position. An expired entry stays in place, unpromoted, until
// a store overwrites it or eviction reaches it.
func (c *Cache) Get(key string) (any, bool) {
	e, ok := c.store.Peek(key)
	if !ok || !c.now().Before(e.expiration) {
		return nil, false
	}
	c.store.Get(key)
	return e.value, true
}

// SetWithTTL stores a value with a custom TTL. Non-positive TTLs store nothing.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if evicted := c.store.Add(key, entry{value: value, expiration: c.now().Add(ttl)}); evicted {
		c.evictions.Add(1)
		slog.Debug("Evicted least recently used entry", "component", "cache", "max_entries", c.store.Len())
	}
}

// Option modifies a single GetOrSet call.
type Option func(*options)

type options struct {
	bypass bool
}

// WithBypass skips the cache entirely when bypass is true: no lookup, no store,
// no coalescing.
func WithBypass(bypass bool) Option {
	return func(o *options) {
		o.bypass = bypass
	}
}

// GetOrSet returns the fresh cached value for key, or runs loader and stores its
// result for ttl. While a load for key is in flight, other callers wait for that
// same result instead of starting their own, even if the stored entry has expired.
// A failed load stores nothing and its error is returned to every waiter.
//
// The loader runs with the context of the caller that started it; other waiters
// may stop waiting when their own context ends.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func(context.Context) (T, error), opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if c == nil || o.bypass {
		return loader(ctx)
	}

	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			c.hits.Add(1)
			slog.Debug("Cache hit", "component", "cache", "key", key)
			return typed, nil
		}
	}
	c.misses.Add(1)

	ch := c.group.DoChan(key, func() (any, error) {
		// A load that finished between our lookup and joining the group already stored it.
		if v, ok := c.Get(key); ok {
			if _, ok := v.(T); ok {
				return v, nil
			}
		}
		c.loads.Add(1)
		val, err := loader(ctx)
		if err != nil {
			slog.Debug("Cache load failed", "component", "cache", "key", key, "error", err)
			return nil, err
		}
		c.SetWithTTL(key, val, ttl)
		return val, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		typed, _ := res.Val.(T)
		if res.Shared {
			slog.Debug("Coalesced cache load", "component", "cache", "key", key)
		}
		return typed, nil
	}
}
