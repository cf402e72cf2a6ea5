// Package cache keeps one live limiter per caller key.
//
// Entries are built on first access through a Loader, expire after a period
// without access, and are always closed when they leave the cache so that
// their replenishment tasks are released.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

// DefaultIdleExpiry is the idle period after which an entry is evicted.
const DefaultIdleExpiry = time.Hour

// EvictReason says why an entry left the cache.
type EvictReason string

const (
	EvictExpired     EvictReason = "expired"
	EvictInvalidated EvictReason = "invalidated"
	EvictClosed      EvictReason = "closed"
)

// Loader builds the limiter for a key on a cache miss. The stamp names what
// the limiter was built from. The cache stores it with the entry and never
// interprets it.
type Loader func(ctx context.Context, key string) (l ratelimit.Limiter, stamp any, err error)

// ConstructionError reports a failed or panicking Loader. Failed loads are
// never cached.
type ConstructionError struct {
	Key   string
	Cause error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("build limiter for %q: %v", e.Key, e.Cause)
}

func (e *ConstructionError) Unwrap() error { return e.Cause }

// Config configures a Cache.
type Config struct {
	// IdleExpiry evicts entries not accessed for this long. Defaults to 1h.
	IdleExpiry time.Duration

	// SweepInterval is how often expired entries are evicted. Defaults to
	// a quarter of IdleExpiry.
	SweepInterval time.Duration

	// Scheduler runs the sweeper. If nil, call Sweep manually.
	Scheduler ratelimit.Scheduler

	// OnEvict is called after an evicted limiter was closed.
	OnEvict func(key string, reason EvictReason)

	// Now is the clock used for idle tracking. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

type entry struct {
	limiter    ratelimit.Limiter
	stamp      any
	lastAccess atomic.Int64
}

// Entry is one row of a Snapshot.
type Entry struct {
	Key     string
	Limiter ratelimit.Limiter
}

// Cache maps caller keys to limiters.
//
// # Thread Safety
//
// Lookups for different keys never contend. Concurrent misses for the same
// key share a single Loader call.
type Cache struct {
	entries sync.Map // string -> *entry
	flight  singleflight.Group
	load    Loader
	cfg     Config
	logger  *slog.Logger
	sweeper ratelimit.Task
	closed  atomic.Bool
}

// New creates a cache and starts its sweeper when a scheduler is configured.
func New(load Loader, cfg Config) (*Cache, error) {
	if cfg.IdleExpiry <= 0 {
		cfg.IdleExpiry = DefaultIdleExpiry
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.IdleExpiry / 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Cache{
		load:   load,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "limits.cache"),
	}

	if cfg.Scheduler != nil {
		task, err := cfg.Scheduler.Schedule(cfg.SweepInterval, cfg.SweepInterval, c.Sweep)
		if err != nil {
			return nil, fmt.Errorf("schedule cache sweep: %w", err)
		}
		c.sweeper = task
	}
	return c, nil
}

// Get returns the limiter for key, building it on a miss.
func (c *Cache) Get(ctx context.Context, key string) (ratelimit.Limiter, error) {
	l, _, err := c.GetStamped(ctx, key)
	return l, err
}

// GetStamped is Get that also returns the stamp of the entry.
func (c *Cache) GetStamped(ctx context.Context, key string) (ratelimit.Limiter, any, error) {
	if e, ok := c.lookup(key); ok {
		return e.limiter, e.stamp, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		if e, ok := c.lookup(key); ok {
			return e, nil
		}

		l, stamp, err := c.build(ctx, key)
		if err != nil {
			return nil, err
		}

		e := &entry{limiter: l, stamp: stamp}
		e.lastAccess.Store(c.cfg.Now().UnixNano())
		if prev, loaded := c.entries.LoadOrStore(key, e); loaded {
			// Lost to a concurrent insert.
			l.Close()
			return prev.(*entry), nil
		}
		if c.closed.Load() {
			c.evict(key, e, EvictClosed)
		}
		return e, nil
	})
	if err != nil {
		return nil, nil, err
	}
	e := v.(*entry)
	return e.limiter, e.stamp, nil
}

func (c *Cache) lookup(key string) (*entry, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	e.lastAccess.Store(c.cfg.Now().UnixNano())
	return e, true
}

func (c *Cache) build(ctx context.Context, key string) (l ratelimit.Limiter, stamp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			l, stamp, err = nil, nil, &ConstructionError{Key: key, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	l, stamp, err = c.load(ctx, key)
	if err != nil {
		return nil, nil, &ConstructionError{Key: key, Cause: err}
	}
	if l == nil {
		return nil, nil, &ConstructionError{Key: key, Cause: fmt.Errorf("loader returned nil limiter")}
	}
	return l, stamp, nil
}

// Peek returns the cached limiter for key without building or touching it.
func (c *Cache) Peek(key string) (ratelimit.Limiter, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*entry).limiter, true
}

// Swap replaces the limiter for key if it is still old, stamping the new
// entry. The caller owns old after a successful swap and decides whether to
// close it.
func (c *Cache) Swap(key string, old, next ratelimit.Limiter, stamp any) bool {
	v, ok := c.entries.Load(key)
	if !ok {
		return false
	}
	cur := v.(*entry)
	if cur.limiter != old {
		return false
	}

	e := &entry{limiter: next, stamp: stamp}
	e.lastAccess.Store(cur.lastAccess.Load())
	return c.entries.CompareAndSwap(key, cur, e)
}

// Restamp changes the stamp of key if it still holds l.
func (c *Cache) Restamp(key string, l ratelimit.Limiter, stamp any) bool {
	return c.Swap(key, l, l, stamp)
}

// Invalidate evicts key and closes its limiter.
func (c *Cache) Invalidate(key string) bool {
	v, ok := c.entries.LoadAndDelete(key)
	if !ok {
		return false
	}
	c.dispose(key, v.(*entry), EvictInvalidated)
	return true
}

// Keys returns the cached keys in no particular order.
func (c *Cache) Keys() []string {
	var keys []string
	c.entries.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	return keys
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Snapshot returns all entries ordered by available permits, most first.
// Ties are ordered by key.
func (c *Cache) Snapshot() []Entry {
	var out []Entry
	c.entries.Range(func(k, v any) bool {
		out = append(out, Entry{Key: k.(string), Limiter: v.(*entry).limiter})
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Limiter, out[j].Limiter
		switch {
		case ratelimit.Less(a, b):
			return true
		case ratelimit.Less(b, a):
			return false
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Sweep evicts entries idle for longer than the configured expiry.
func (c *Cache) Sweep() {
	cutoff := c.cfg.Now().Add(-c.cfg.IdleExpiry).UnixNano()
	evicted := 0
	c.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		if e.lastAccess.Load() < cutoff {
			if c.evict(k.(string), e, EvictExpired) {
				evicted++
			}
		}
		return true
	})
	if evicted > 0 {
		c.logger.Debug("swept idle limiters", "evicted", evicted, "remaining", c.Len())
	}
}

// evict removes key only if it still maps to e.
func (c *Cache) evict(key string, e *entry, reason EvictReason) bool {
	if !c.entries.CompareAndDelete(key, e) {
		return false
	}
	c.dispose(key, e, reason)
	return true
}

func (c *Cache) dispose(key string, e *entry, reason EvictReason) {
	e.limiter.Close()
	if c.cfg.OnEvict != nil {
		c.cfg.OnEvict(key, reason)
	}
}

// Close stops the sweeper and closes every cached limiter.
func (c *Cache) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.sweeper != nil {
		c.sweeper.Cancel()
	}
	c.entries.Range(func(k, v any) bool {
		c.evict(k.(string), v.(*entry), EvictClosed)
		return true
	})
}
