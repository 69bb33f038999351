package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/catalog/pkg/observability"
	"github.com/platinummonkey/catalog/pkg/storage"
)

// Cache tiers reported in cache_requests_total
const (
	TierMemory = "memory"
	TierRedis  = "redis"
)

// Cache results reported in cache_requests_total
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// listGenerationKey counts inserts across every replica sharing Redis. Lists
// are cached under the generation current when the read started.
const listGenerationKey = "products:list:generation"

func listKey(generation int64) string {
	return fmt.Sprintf("products:list:%d", generation)
}

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

// CachedStore is a read-through product cache in front of a ProductStore.
// Reads consult an in-process LRU, then Redis (when configured), then the
// store. Cache failures fall through to the store and never fail a request.
//
// Products are immutable once inserted, so single products are cached in both
// tiers. The product list changes on every insert: it is cached only when
// Redis is configured, under a key versioned by a generation counter that
// Insert bumps after the row is committed. A list read that raced an insert
// is filed under the old generation, which no later read consults.
type CachedStore struct {
	store   storage.ProductStore
	local   *lru.LRU[string, []byte]
	redis   *RedisClient
	metrics *observability.Registry
	logger  *observability.Logger
}

// CacheConfig sizes the in-process tier
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// NewCachedStore wraps store. redis may be nil, leaving only the
// in-process tier.
func NewCachedStore(store storage.ProductStore, redis *RedisClient, config CacheConfig, metrics *observability.Registry, logger *observability.Logger) *CachedStore {
	maxEntries := config.MaxEntries
	if maxEntries < 10 {
		maxEntries = 10
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	return &CachedStore{
		store:   store,
		local:   lru.NewLRU[string, []byte](maxEntries, nil, ttl),
		redis:   redis,
		metrics: metrics,
		logger:  logger,
	}
}

// List returns every product
func (c *CachedStore) List(ctx context.Context) ([]*storage.Product, error) {
	products, _, err := c.ListSourced(ctx)
	return products, err
}

// ListSourced returns every product and whether the store was reached
func (c *CachedStore) ListSourced(ctx context.Context) ([]*storage.Product, storage.Source, error) {
	generation, ok := c.listGeneration(ctx)
	if !ok {
		products, err := c.store.List(ctx)
		return products, storage.SourceStore, err
	}

	key := listKey(generation)
	var products []*storage.Product
	if c.lookup(ctx, key, &products) {
		return products, storage.SourceCache, nil
	}

	products, err := c.store.List(ctx)
	if err != nil {
		return nil, storage.SourceStore, err
	}
	c.fill(ctx, key, products)
	return products, storage.SourceStore, nil
}

// GetByID returns one product. Misses are not cached.
func (c *CachedStore) GetByID(ctx context.Context, id int64) (*storage.Product, error) {
	product, _, err := c.GetByIDSourced(ctx, id)
	return product, err
}

// GetByIDSourced returns one product and whether the store was reached
func (c *CachedStore) GetByIDSourced(ctx context.Context, id int64) (*storage.Product, storage.Source, error) {
	key := productKey(id)
	var product storage.Product
	if c.lookup(ctx, key, &product) {
		return &product, storage.SourceCache, nil
	}

	found, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, storage.SourceStore, err
	}
	c.fill(ctx, key, found)
	return found, storage.SourceStore, nil
}

// Insert writes through to the store, then retires the cached list by moving
// to the next generation.
func (c *CachedStore) Insert(ctx context.Context, product *storage.Product) (*storage.Product, error) {
	created, err := c.store.Insert(ctx, product)
	if err != nil {
		return nil, err
	}

	if c.redis != nil {
		if _, err := c.redis.Increment(ctx, listGenerationKey); err != nil {
			c.record(TierRedis, ResultError)
			observability.FromContext(ctx).WithError(err).Warn("Failed to retire cached product list")
		}
	}
	return created, nil
}

// Ping probes the underlying store
func (c *CachedStore) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// PoolStats forwards the underlying store's pool statistics
func (c *CachedStore) PoolStats() (storage.PoolStats, error) {
	provider, ok := c.store.(observability.PoolStatsProvider)
	if !ok {
		return storage.PoolStats{}, fmt.Errorf("store does not report pool statistics")
	}
	return provider.PoolStats()
}

// Close closes the store and the Redis connection
func (c *CachedStore) Close() error {
	c.local.Purge()
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close redis")
		}
	}
	return c.store.Close()
}

// listGeneration reads the shared list generation. Without Redis, or when
// Redis fails, the list is not cached.
func (c *CachedStore) listGeneration(ctx context.Context) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	generation, err := c.redis.Counter(ctx, listGenerationKey)
	if err != nil {
		c.record(TierRedis, ResultError)
		observability.FromContext(ctx).WithError(err).Warn("Redis list generation read failed")
		return 0, false
	}
	return generation, true
}

func (c *CachedStore) lookup(ctx context.Context, key string, into interface{}) bool {
	if data, ok := c.local.Get(key); ok {
		if err := json.Unmarshal(data, into); err == nil {
			c.record(TierMemory, ResultHit)
			return true
		}
		c.local.Remove(key)
	}
	c.record(TierMemory, ResultMiss)

	if c.redis == nil {
		return false
	}
	data, found, err := c.redis.Get(ctx, key)
	if err != nil {
		c.record(TierRedis, ResultError)
		observability.FromContext(ctx).WithError(err).Warn("Redis cache read failed")
		return false
	}
	if !found {
		c.record(TierRedis, ResultMiss)
		return false
	}
	if err := json.Unmarshal(data, into); err != nil {
		c.record(TierRedis, ResultError)
		_ = c.redis.Delete(ctx, key)
		return false
	}
	c.record(TierRedis, ResultHit)
	c.local.Add(key, data)
	return true
}

func (c *CachedStore) fill(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.local.Add(key, data)
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, data); err != nil {
			c.record(TierRedis, ResultError)
			observability.FromContext(ctx).WithError(err).Warn("Redis cache write failed")
		}
	}
}

func (c *CachedStore) record(tier, result string) {
	if c.metrics == nil {
		return
	}
	_ = c.metrics.IncrementCounter(observability.MetricCacheRequests,
		observability.Labels{"tier": tier, "result": result})
}
