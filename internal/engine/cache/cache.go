// Package cache implements the content-addressed result cache: a budgeted
// in-memory LRU tier with write-through to a persistent ports.ResultStore.
//
// The memory tier is authoritative for a run. The store only provides
// durability across runs, so its failures are logged and counted but never
// fail a Put or a Get.
package cache

import (
	"bytes"
	"container/list"
	"context"
	"slices"
	"sync"
	"time"

	"go.trai.ch/kiln/internal/adapters/metrics"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

const (
	tierMemory = "memory"
	tierStore  = "store"

	writeStripes = 32
)

// Cache is safe for concurrent use.
type Cache struct {
	store    ports.ResultStore
	budget   int64
	lowWater float64
	logger   ports.Logger
	metrics  ports.Metrics
	now      func() time.Time

	mu      sync.Mutex
	lru     *list.List // front is most recently used
	entries map[domain.ContentHash]*list.Element
	size    int64
	// evicted holds the digest of every entry evicted this run, which the
	// store still holds, so a differing Put is seen as a collision.
	evicted map[domain.ContentHash]domain.ContentHash

	// writes orders the memory update and the store write of each hash.
	writes [writeStripes]sync.Mutex

	stats counters
}

// Option configures a Cache.
type Option func(*Cache)

// WithBudget bounds the resident bytes of the memory tier. Zero or less
// means unbounded.
func WithBudget(bytes int64) Option {
	return func(c *Cache) { c.budget = bytes }
}

// WithLowWater sets the fraction of the budget eviction shrinks to.
func WithLowWater(fraction float64) Option {
	return func(c *Cache) {
		if fraction > 0 && fraction <= 1 {
			c.lowWater = fraction
		}
	}
}

// WithLogger sets the logger anomalies are reported to.
func WithLogger(l ports.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m ports.Metrics) Option {
	return func(c *Cache) { c.metrics = metrics.OrNoOp(m) }
}

// WithClock overrides the access clock.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache in front of store. A nil store keeps results in
// memory only.
func New(store ports.ResultStore, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		budget:   domain.DefaultCacheBudget,
		lowWater: domain.DefaultCacheLowWater,
		metrics:  metrics.NoOp{},
		now:      time.Now,
		lru:      list.New(),
		entries:  make(map[domain.ContentHash]*list.Element),
		evicted:  make(map[domain.ContentHash]domain.ContentHash),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the data stored under hash, consulting the persistent store
// on a memory miss. Entries loaded from the store become resident.
func (c *Cache) Get(ctx context.Context, hash domain.ContentHash) ([]byte, bool) {
	c.mu.Lock()
	if el, ok := c.entries[hash]; ok {
		c.lru.MoveToFront(el)
		e := entryOf(el)
		e.LastAccess = c.now()
		data := slices.Clone(e.Data)
		c.mu.Unlock()
		c.count(&c.stats.hits, domain.MetricCacheHits, tierMemory)
		return data, true
	}
	c.mu.Unlock()

	w := c.writeLock(hash)
	w.Lock()
	data, ok := c.load(ctx, hash)
	if !ok {
		w.Unlock()
		c.count(&c.stats.misses, domain.MetricCacheMisses, "")
		return nil, false
	}

	c.mu.Lock()
	if _, raced := c.entries[hash]; !raced {
		c.insertLocked(hash, data)
	}
	c.mu.Unlock()
	w.Unlock()
	c.count(&c.stats.hits, domain.MetricCacheHits, tierStore)
	c.EvictToBudget()
	return slices.Clone(data), true
}

func (c *Cache) load(ctx context.Context, hash domain.ContentHash) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	raw, found, err := c.store.Load(ctx, hash)
	if err != nil {
		c.count(&c.stats.loadFailures, domain.MetricCacheLoadFailures, "")
		c.report(zerr.With(zerr.Wrap(err, "failed to load cached result"), "hash", hash.String()))
		return nil, false
	}
	if !found {
		return nil, false
	}

	data, err := Open(hash, raw)
	if err != nil {
		c.count(&c.stats.integrity, domain.MetricCacheIntegrityErrors, "")
		c.report(err)
		if derr := c.store.Delete(ctx, hash); derr != nil {
			c.report(zerr.With(zerr.Wrap(derr, "failed to drop corrupt entry"), "hash", hash.String()))
		}
		return nil, false
	}
	return data, true
}

// Put stores data under hash. Storing equal bytes under a resident hash is
// a no-op. Different bytes under a hash that is resident, or was evicted
// during this run, replace the old value and are reported as a collision.
// Entries only found in the store from an earlier run are overwritten
// without a check. Puts of one hash reach the store in the order they
// reach memory.
func (c *Cache) Put(ctx context.Context, hash domain.ContentHash, data []byte) {
	w := c.writeLock(hash)
	w.Lock()
	defer w.Unlock()

	c.mu.Lock()
	if el, ok := c.entries[hash]; ok {
		e := entryOf(el)
		if bytes.Equal(e.Data, data) {
			c.lru.MoveToFront(el)
			e.LastAccess = c.now()
			c.mu.Unlock()
			return
		}
		c.size += int64(len(data)) - e.Size
		e.Data = slices.Clone(data)
		e.Size = int64(len(data))
		e.LastAccess = c.now()
		c.lru.MoveToFront(el)
		c.mu.Unlock()

		c.collision(hash)
	} else {
		digest, wasEvicted := c.evicted[hash]
		c.insertLocked(hash, slices.Clone(data))
		c.mu.Unlock()
		if wasEvicted && digest != domain.HashBytes(data) {
			c.collision(hash)
		}
	}
	c.stats.puts.Add(1)

	c.persist(ctx, hash, data)
	c.EvictToBudget()
}

func (c *Cache) persist(ctx context.Context, hash domain.ContentHash, data []byte) {
	if c.store == nil {
		return
	}
	if err := c.store.Store(ctx, hash, Seal(hash, data)); err != nil {
		c.count(&c.stats.persistFailures, domain.MetricCachePersistFailures, "")
		c.report(zerr.With(zerr.Wrap(err, "failed to persist cached result"), "hash", hash.String()))
	}
}

// EvictToBudget evicts least recently used entries once resident bytes
// exceed the budget, until they are at or below budget times the low water
// fraction. Evicted entries stay in the persistent store.
func (c *Cache) EvictToBudget() int {
	c.mu.Lock()
	if c.budget <= 0 || c.size <= c.budget {
		c.mu.Unlock()
		return 0
	}
	target := int64(float64(c.budget) * c.lowWater)
	evicted := 0
	for c.size > target {
		el := c.lru.Back()
		if el == nil {
			break
		}
		e := entryOf(el)
		c.evicted[e.Hash] = domain.HashBytes(e.Data)
		c.removeLocked(el)
		evicted++
	}
	resident := c.size
	c.mu.Unlock()

	c.stats.evictions.Add(int64(evicted))
	c.metrics.Count(domain.MetricCacheEvictions, int64(evicted))
	c.metrics.Observe(domain.MetricCacheResidentBytes, float64(resident))
	return evicted
}

// Remove drops hash from memory and from the persistent store.
func (c *Cache) Remove(ctx context.Context, hash domain.ContentHash) {
	w := c.writeLock(hash)
	w.Lock()
	defer w.Unlock()

	c.mu.Lock()
	if el, ok := c.entries[hash]; ok {
		c.removeLocked(el)
	}
	delete(c.evicted, hash)
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, hash); err != nil {
		c.report(zerr.With(zerr.Wrap(err, "failed to delete cached result"), "hash", hash.String()))
	}
}

// Contains reports whether hash is resident without touching its recency.
func (c *Cache) Contains(hash domain.ContentHash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[hash]
	return ok
}

// Entries returns copies of the resident entries, most recently used first.
func (c *Cache) Entries() []domain.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CacheEntry, 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := *entryOf(el)
		e.Data = slices.Clone(e.Data)
		out = append(out, e)
	}
	return out
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Size returns the resident bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Budget returns the configured budget in bytes.
func (c *Cache) Budget() int64 {
	return c.budget
}

func (c *Cache) insertLocked(hash domain.ContentHash, data []byte) {
	e := &domain.CacheEntry{
		Hash:       hash,
		Data:       data,
		Size:       int64(len(data)),
		LastAccess: c.now(),
	}
	c.entries[hash] = c.lru.PushFront(e)
	c.size += e.Size
	delete(c.evicted, hash)
}

func (c *Cache) removeLocked(el *list.Element) {
	e := entryOf(el)
	c.lru.Remove(el)
	delete(c.entries, e.Hash)
	c.size -= e.Size
}

func (c *Cache) writeLock(hash domain.ContentHash) *sync.Mutex {
	return &c.writes[uint64(hash)%writeStripes]
}

func (c *Cache) collision(hash domain.ContentHash) {
	c.count(&c.stats.collisions, domain.MetricCacheCollisions, "")
	c.report(zerr.With(domain.ErrCacheCollision, "hash", hash.String()))
}

func entryOf(el *list.Element) *domain.CacheEntry {
	e, _ := el.Value.(*domain.CacheEntry)
	return e
}

func (c *Cache) count(counter interface{ Add(int64) int64 }, name, tier string) {
	counter.Add(1)
	if tier != "" {
		c.metrics.Count(name, 1, domain.L("tier", tier))
		return
	}
	c.metrics.Count(name, 1)
}

func (c *Cache) report(err error) {
	if c.logger != nil {
		c.logger.Error(err)
	}
}
