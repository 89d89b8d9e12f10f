package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/sourcegraph/conc"
)

var Logger = logger.GetLogger("cache")

// Stats is a snapshot of the cache counters
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
	MaxSize   int
	TTL       time.Duration
}

// HitRate returns hits / (hits + misses), or 0 without lookups
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// Cache is a bounded, time expiring key/value store with strict least
// recently used eviction. Values are copied on the way in and on the way out,
// so callers never share state with the cache.
//
// Thread-safe: all operations are serialized by one mutex
type Cache[V any] struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, entry[V]]
	clone   func(V) V
	maxSize int
	ttl     time.Duration

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
	sweeper  conc.WaitGroup
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// New creates a cache holding at most maxSize entries for ttl each.
// clone copies values (nil stores values as they are). Expired entries are
// swept every ttl until Close is called.
func New[V any](maxSize int, ttl time.Duration, clone func(V) V) *Cache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	if clone == nil {
		clone = func(v V) V { return v }
	}
	// only fails for a non-positive size
	store, _ := simplelru.NewLRU[string, entry[V]](maxSize, nil)
	c := &Cache[V]{
		lru:     store,
		clone:   clone,
		maxSize: maxSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	if ttl > 0 {
		c.sweeper.Go(c.sweepLoop)
	}
	return c
}

// Get returns a copy of the value stored for key. Expired entries are
// removed on access and reported as absent. A hit marks the entry as most
// recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if ok && c.expired(e, time.Now()) {
		// lazy expiry
		c.lru.Remove(key)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return c.clone(e.value), true
}

// Set inserts or overwrites key, marks it most recently used and evicts the
// least recently used entries while the cache is over capacity.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru.Add(key, entry[V]{value: c.clone(value), expires: time.Now().Add(c.ttl)}) {
		c.evictions.Add(1)
		Logger.Debugf("cache full (%d entries), evicted least recently used entry", c.maxSize)
	}
}

// Delete removes key, it reports whether the key was present
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Len returns the number of entries (expired entries not yet removed included)
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge removes all entries
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Close stops the expiry sweep, waits for it to end and removes all entries.
// The cache stays usable, expired entries are then only removed on access.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.sweeper.Wait()
	c.Purge()
}

// Stats returns a snapshot of the counters
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
		MaxSize:   c.maxSize,
		TTL:       c.ttl,
	}
}

// --------------------------------------------------------------------------
// Expiry
// --------------------------------------------------------------------------

func (c *Cache[V]) expired(e entry[V], now time.Time) bool {
	return c.ttl > 0 && !now.Before(e.expires)
}

func (c *Cache[V]) sweepLoop() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			if n := c.sweep(now); n > 0 {
				Logger.Debugf("swept %d expired entries", n)
			}
		}
	}
}

// sweep removes every entry expired at now and returns how many were removed
func (c *Cache[V]) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && c.expired(e, now) {
			c.lru.Remove(key)
			n++
		}
	}
	return n
}
