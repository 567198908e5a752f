// Package cache implements the per-actor response cache: a strict LRU keyed
// by request fingerprint, optionally written through to a store.Store so it
// survives restarts.
package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/pario-ai/google-proxy/pkg/clock"
	"github.com/pario-ai/google-proxy/pkg/codec"
	"github.com/pario-ai/google-proxy/pkg/models"
	"github.com/pario-ai/google-proxy/pkg/store"
)

// Cache maps fingerprints to upstream responses. A Cache with size 0 is
// disabled: Get always misses and Put does nothing.
type Cache struct {
	mu   sync.Mutex
	size int
	lru  *simplelru.LRU[string, *models.CacheEntry]

	store     store.Store
	namespace string
	clock     clock.Clock
	logger    *zap.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore persists entries under "<namespace>/cache/<fingerprint>".
func WithStore(s store.Store, namespace string) Option {
	return func(c *Cache) {
		c.store = s
		c.namespace = namespace
	}
}

// WithClock sets the clock used for entry timestamps.
func WithClock(cl clock.Clock) Option {
	return func(c *Cache) { c.clock = cl }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache holding at most size entries.
func New(size int, opts ...Option) *Cache {
	c := &Cache{
		size:   size,
		clock:  clock.Real(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lru = c.newLRU()
	return c
}

func (c *Cache) newLRU() *simplelru.LRU[string, *models.CacheEntry] {
	if c.size <= 0 {
		return nil
	}
	l, err := simplelru.NewLRU[string, *models.CacheEntry](c.size, c.onEvict)
	if err != nil {
		// Only returned for non-positive sizes.
		panic(err)
	}
	return l
}

// onEvict runs with c.mu held, from inside lru.Add.
func (c *Cache) onEvict(fp string, _ *models.CacheEntry) {
	c.evictions.Add(1)
	c.logger.Debug("cache eviction", zap.String("fingerprint", fp))
	if c.store == nil {
		return
	}
	if err := c.store.Delete(context.Background(), c.key(fp)); err != nil {
		c.logger.Warn("cache store delete failed", zap.String("fingerprint", fp), zap.Error(err))
	}
}

func (c *Cache) prefix() string {
	if c.namespace == "" {
		return "cache/"
	}
	return store.Key(c.namespace, "cache") + "/"
}

func (c *Cache) key(fp string) string {
	return c.prefix() + fp
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool {
	return c.size > 0
}

// Get returns the cached response for fp and marks it most recently used.
func (c *Cache) Get(ctx context.Context, fp string) (*models.Response, bool) {
	if !c.Enabled() {
		c.misses.Add(1)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(fp)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	entry.LastUsedAt = c.clock.Now()
	c.persist(ctx, entry)

	resp := entry.Response
	return &resp, true
}

// Put stores resp under fp. When the cache is full and fp is new, the
// least recently used entry is evicted.
func (c *Cache) Put(ctx context.Context, fp string, resp models.Response) {
	if !c.Enabled() {
		return
	}
	resp.SessionID = ""
	resp.Cached = false

	now := c.clock.Now()
	entry := &models.CacheEntry{
		Fingerprint: fp,
		Response:    resp,
		CreatedAt:   now,
		LastUsedAt:  now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(fp, entry)
	c.persist(ctx, entry)
}

// Contains reports whether fp is cached without touching its recency.
func (c *Cache) Contains(fp string) bool {
	if !c.Enabled() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(fp)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	if !c.Enabled() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() models.CacheStats {
	return models.CacheStats{
		Entries:   int64(c.Len()),
		Capacity:  int64(c.size),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Clear removes every entry, including persisted ones.
func (c *Cache) Clear(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.lru.Keys()
	c.lru = c.newLRU()
	if c.store == nil {
		return
	}
	for _, fp := range keys {
		if err := c.store.Delete(ctx, c.key(fp)); err != nil {
			c.logger.Warn("cache store delete failed", zap.String("fingerprint", fp), zap.Error(err))
		}
	}
}

// Restore loads persisted entries into the LRU, most recently used last.
// Entries beyond capacity are dropped from the store. Undecodable entries
// are skipped.
func (c *Cache) Restore(ctx context.Context) error {
	if !c.Enabled() || c.store == nil {
		return nil
	}
	kvs, err := c.store.List(ctx, c.prefix())
	if err != nil {
		return err
	}

	entries := make([]*models.CacheEntry, 0, len(kvs))
	for _, kv := range kvs {
		var e models.CacheEntry
		if err := codec.Unmarshal(kv.Value, &e); err != nil {
			c.logger.Warn("skipping undecodable cache entry", zap.String("key", kv.Key), zap.Error(err))
			continue
		}
		entries = append(entries, &e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastUsedAt.Before(entries[j].LastUsedAt)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if overflow := len(entries) - c.size; overflow > 0 {
		for _, e := range entries[:overflow] {
			if err := c.store.Delete(ctx, c.key(e.Fingerprint)); err != nil {
				c.logger.Warn("cache store delete failed", zap.String("fingerprint", e.Fingerprint), zap.Error(err))
			}
		}
		entries = entries[overflow:]
	}
	for _, e := range entries {
		c.lru.Add(e.Fingerprint, e)
	}
	c.logger.Info("cache restored", zap.Int("entries", c.lru.Len()))
	return nil
}

func (c *Cache) persist(ctx context.Context, entry *models.CacheEntry) {
	if c.store == nil {
		return
	}
	data, err := codec.Marshal(entry)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("fingerprint", entry.Fingerprint), zap.Error(err))
		return
	}
	if err := c.store.Put(ctx, c.key(entry.Fingerprint), data); err != nil {
		c.logger.Warn("cache store put failed", zap.String("fingerprint", entry.Fingerprint), zap.Error(err))
	}
}
