// Package weakcache memoizes an expensive producer per key while letting the
// garbage collector reclaim values nobody uses any more.
//
// Values are held through weak.Pointer. A stored or reused value is also
// pinned by a strong reference for the configured retention window so that a
// value in active use is not collected between two requests; once the pin
// lapses the entry survives only as long as something else keeps the value
// alive. There is no explicit eviction or invalidation: a cached value stays
// in use, stale or not, until it is reclaimed.
package weakcache

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/l0p7/gamestats/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Producer computes the value for key. It is assumed idempotent for a key over
// the cache lifetime and safe to call concurrently for distinct keys.
type Producer[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Cache is a read-through memo cache over a single Producer. Keys must have
// distinct fmt representations; they double as in-flight coalescing keys.
type Cache[K comparable, V any] struct {
	name     string
	produce  Producer[K, V]
	retain   time.Duration
	interval time.Duration
	metrics  *metrics.Recorder
	now      func() time.Time

	mu      sync.Mutex
	entries map[K]*entry[V]

	flights singleflight.Group

	stopOnce sync.Once
	stopChan chan struct{}
}

type entry[V any] struct {
	ref         weak.Pointer[box[V]]
	pin         *box[V]
	pinnedUntil time.Time
}

// box carries a pointer field so small V never lands in a tiny-alloc block,
// which would delay both weak pointer clearing and cleanups indefinitely.
type box[V any] struct {
	value    V
	storedAt time.Time
}

type reclaimArg[K comparable, V any] struct {
	key K
	ref weak.Pointer[box[V]]
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	retain   time.Duration
	interval time.Duration
	metrics  *metrics.Recorder
	now      func() time.Time
}

// WithRetention pins each value for d after its last store or hit. Zero
// leaves values purely weakly held.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retain = d }
}

// WithSweepInterval sets how often lapsed pins are released. It defaults to
// the retention window.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithMetrics records lookups, producer runs and reclamations.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(o *options) { o.metrics = rec }
}

func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds a cache named name around produce. Close must be called to stop
// the pin sweeper when retention is enabled.
func New[K comparable, V any](name string, produce Producer[K, V], opts ...Option) *Cache[K, V] {
	if produce == nil {
		panic("weakcache: producer required")
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.retain < 0 {
		o.retain = 0
	}
	if o.retain > 0 && o.interval <= 0 {
		o.interval = o.retain
	}

	c := &Cache[K, V]{
		name:     name,
		produce:  produce,
		retain:   o.retain,
		interval: o.interval,
		metrics:  o.metrics,
		now:      o.now,
		entries:  make(map[K]*entry[V]),
		stopChan: make(chan struct{}),
	}
	c.startSweeper()
	return c
}

// Name returns the cache label used in logs and metrics.
func (c *Cache[K, V]) Name() string { return c.name }

// Get returns the live value for key, or runs the producer, stores its result
// and returns it. Producer errors are returned as is and never cached.
// Concurrent misses for one key usually share a single producer run, but a
// duplicate run is possible and harmless: the last stored value wins.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	v, _, err := c.Fetch(ctx, key)
	return v, err
}

// Fetch is Get that also reports whether the value was already live.
func (c *Cache[K, V]) Fetch(ctx context.Context, key K) (V, bool, error) {
	start := time.Now()
	if v, ok := c.lookup(key); ok {
		c.metrics.ObserveCacheLookup(c.name, metrics.CacheLookupHit, time.Since(start))
		return v, true, nil
	}

	// The flight outlives any single waiter, so it must not inherit one
	// caller's cancellation. Each waiter still stops on its own ctx below.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(fmt.Sprint(key), func() (any, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		produceStart := time.Now()
		v, err := c.produceRecovered(flightCtx, key)
		if err != nil {
			c.metrics.ObserveCacheStore(c.name, metrics.CacheStoreError, time.Since(produceStart))
			return nil, err
		}
		c.store(key, v)
		c.metrics.ObserveCacheStore(c.name, metrics.CacheStoreStored, time.Since(produceStart))
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		c.metrics.ObserveCacheLookup(c.name, metrics.CacheLookupError, time.Since(start))
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.metrics.ObserveCacheLookup(c.name, metrics.CacheLookupError, time.Since(start))
			return zero, false, res.Err
		}
		c.metrics.ObserveCacheLookup(c.name, metrics.CacheLookupMiss, time.Since(start))
		v, _ := res.Val.(V)
		return v, false, nil
	}
}

// produceRecovered turns a producer panic into an error. DoChan would
// otherwise re-panic it on a goroutine no caller can recover.
func (c *Cache[K, V]) produceRecovered(ctx context.Context, key K) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			v, err = zero, fmt.Errorf("weakcache: %s producer panic: %v", c.name, r)
		}
	}()
	return c.produce(ctx, key)
}

// Produce runs the producer for key without reading or filling the cache.
func (c *Cache[K, V]) Produce(ctx context.Context, key K) (V, error) {
	return c.produceRecovered(ctx, key)
}

// Len reports how many entries still hold a live value.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.ref.Value() != nil {
			n++
		}
	}
	return n
}

// Close stops the pin sweeper and drops every pin. It is safe to call more
// than once.
func (c *Cache[K, V]) Close() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.mu.Lock()
		for _, e := range c.entries {
			e.pin = nil
		}
		c.mu.Unlock()
	})
}

func (c *Cache[K, V]) lookup(key K) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	b := e.ref.Value()
	if b == nil {
		// Collected, but the cleanup has not run yet.
		delete(c.entries, key)
		return zero, false
	}
	c.pinLocked(e, b)
	return b.value, true
}

func (c *Cache[K, V]) store(key K, v V) {
	b := &box[V]{value: v, storedAt: c.now()}
	e := &entry[V]{ref: weak.Make(b)}

	c.mu.Lock()
	c.pinLocked(e, b)
	c.entries[key] = e
	c.mu.Unlock()

	runtime.AddCleanup(b, c.reclaim, reclaimArg[K, V]{key: key, ref: e.ref})
}

func (c *Cache[K, V]) pinLocked(e *entry[V], b *box[V]) {
	if c.retain <= 0 {
		return
	}
	select {
	case <-c.stopChan:
		return
	default:
	}
	e.pin = b
	e.pinnedUntil = c.now().Add(c.retain)
}

func (c *Cache[K, V]) reclaim(arg reclaimArg[K, V]) {
	c.mu.Lock()
	e, ok := c.entries[arg.key]
	dropped := ok && e.ref == arg.ref
	if dropped {
		delete(c.entries, arg.key)
	}
	c.mu.Unlock()
	if dropped {
		c.metrics.ObserveCacheReclaim(c.name)
	}
}

// sweep releases lapsed pins and forgets entries whose value is gone.
func (c *Cache[K, V]) sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.pin != nil && now.After(e.pinnedUntil) {
			e.pin = nil
		}
		if e.pin == nil && e.ref.Value() == nil {
			delete(c.entries, key)
		}
	}
}

func (c *Cache[K, V]) startSweeper() {
	if c.retain <= 0 || c.interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.stopChan:
				ticker.Stop()
				return
			}
		}
	}()
}
