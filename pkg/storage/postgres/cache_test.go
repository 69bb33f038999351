package postgres

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/catalog/pkg/observability"
	"github.com/platinummonkey/catalog/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts calls reaching the backing store
type countingStore struct {
	*storage.MemoryStore
	lists int
	gets  int
}

func (s *countingStore) List(ctx context.Context) ([]*storage.Product, error) {
	s.lists++
	return s.MemoryStore.List(ctx)
}

func (s *countingStore) GetByID(ctx context.Context, id int64) (*storage.Product, error) {
	s.gets++
	return s.MemoryStore.GetByID(ctx, id)
}

func newCacheFixture(t *testing.T, withRedis bool) (*CachedStore, *countingStore, *observability.Registry, *miniredis.Miniredis) {
	t.Helper()
	backing := &countingStore{MemoryStore: storage.NewMemoryStore()}
	for _, p := range storage.SampleProducts()[:3] {
		_, err := backing.Insert(context.Background(), p)
		require.NoError(t, err)
	}

	metrics := observability.NewRegistry()
	logger := observability.NewLogger("test", observability.DebugLevel, &bytes.Buffer{})

	var (
		rc *RedisClient
		mr *miniredis.Miniredis
	)
	if withRedis {
		mr = miniredis.RunT(t)
		var err error
		rc, err = NewRedisClient(RedisConfig{URL: "redis://" + mr.Addr(), TTL: time.Minute})
		require.NoError(t, err)
	}

	cache := NewCachedStore(backing, rc, CacheConfig{MaxEntries: 100, TTL: time.Minute}, metrics, logger)
	t.Cleanup(func() { cache.Close() })
	return cache, backing, metrics, mr
}

func cacheCount(metrics *observability.Registry, tier, result string) float64 {
	v, _ := metrics.Value(observability.MetricCacheRequests, observability.Labels{"tier": tier, "result": result})
	return v
}

func TestCachedStore_ListNotCachedWithoutRedis(t *testing.T) {
	cache, backing, metrics, _ := newCacheFixture(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		products, source, err := cache.ListSourced(ctx)
		require.NoError(t, err)
		assert.Len(t, products, 3)
		assert.Equal(t, storage.SourceStore, source)
	}
	assert.Equal(t, 3, backing.lists)
	assert.Equal(t, 0.0, cacheCount(metrics, TierMemory, ResultHit))
}

func TestCachedStore_ListReadThrough(t *testing.T) {
	cache, backing, metrics, mr := newCacheFixture(t, true)
	ctx := context.Background()

	first, source, err := cache.ListSourced(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.SourceStore, source)
	second, source, err := cache.ListSourced(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.SourceCache, source)

	assert.Equal(t, 1, backing.lists)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists(listKey(0)))
	assert.Equal(t, 1.0, cacheCount(metrics, TierMemory, ResultHit))
}

func TestCachedStore_InsertRetiresList(t *testing.T) {
	cache, backing, _, mr := newCacheFixture(t, true)
	ctx := context.Background()

	_, err := cache.List(ctx)
	require.NoError(t, err)

	_, err = cache.Insert(ctx, &storage.Product{Name: "Gadget", Price: 1, Category: "Misc"})
	require.NoError(t, err)
	generation, err := mr.Get(listGenerationKey)
	require.NoError(t, err)
	assert.Equal(t, "1", generation)

	products, err := cache.List(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 4)
	assert.Equal(t, 2, backing.lists)
}

// Another replica sharing Redis inserts a product; this replica's
// in-process tier must not keep serving the old list.
func TestCachedStore_InsertOnOtherReplica(t *testing.T) {
	cache, backing, _, mr := newCacheFixture(t, true)
	ctx := context.Background()

	other, err := NewRedisClient(RedisConfig{URL: "redis://" + mr.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	defer other.Close()
	replica := NewCachedStore(backing, other, CacheConfig{}, nil, nil)

	_, err = cache.List(ctx)
	require.NoError(t, err)
	_, err = replica.Insert(ctx, &storage.Product{Name: "Gadget", Price: 1, Category: "Misc"})
	require.NoError(t, err)

	products, err := cache.List(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 4)
}

// blockingStore holds the first List call until released
type blockingStore struct {
	*storage.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) List(ctx context.Context) ([]*storage.Product, error) {
	products, err := s.MemoryStore.List(ctx)
	blocked := false
	s.once.Do(func() { blocked = true })
	if blocked {
		close(s.entered)
		<-s.release
	}
	return products, err
}

func TestCachedStore_ListRacingInsertStaysFresh(t *testing.T) {
	for _, withRedis := range []bool{false, true} {
		t.Run(fmt.Sprintf("redis=%v", withRedis), func(t *testing.T) {
			backing := &blockingStore{
				MemoryStore: storage.NewMemoryStore(),
				entered:     make(chan struct{}),
				release:     make(chan struct{}),
			}
			var rc *RedisClient
			if withRedis {
				mr := miniredis.RunT(t)
				var err error
				rc, err = NewRedisClient(RedisConfig{URL: "redis://" + mr.Addr(), TTL: time.Minute})
				require.NoError(t, err)
			}
			cache := NewCachedStore(backing, rc, CacheConfig{MaxEntries: 100, TTL: time.Minute}, nil, nil)
			defer cache.Close()
			ctx := context.Background()

			done := make(chan []*storage.Product, 1)
			go func() {
				products, _ := cache.List(ctx)
				done <- products
			}()

			<-backing.entered
			_, err := cache.Insert(ctx, &storage.Product{Name: "Gadget", Price: 1, Category: "Misc"})
			require.NoError(t, err)
			close(backing.release)
			assert.Empty(t, <-done, "the in-flight read started before the insert")

			products, err := cache.List(ctx)
			require.NoError(t, err)
			assert.Len(t, products, 1, "a read after a completed insert must see it")
		})
	}
}

func TestCachedStore_GetByIDRedisTier(t *testing.T) {
	cache, backing, metrics, _ := newCacheFixture(t, true)
	ctx := context.Background()

	p, err := cache.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)

	// Drop the in-process tier so the next read is served by Redis.
	cache.local.Purge()

	p, source, err := cache.GetByIDSourced(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, storage.SourceCache, source)
	assert.Equal(t, 1, backing.gets)
	assert.Equal(t, 1.0, cacheCount(metrics, TierRedis, ResultHit))
	assert.Equal(t, 1.0, cacheCount(metrics, TierRedis, ResultMiss))
}

func TestCachedStore_NotFoundIsNotCached(t *testing.T) {
	cache, backing, _, _ := newCacheFixture(t, false)
	ctx := context.Background()

	_, err := cache.GetByID(ctx, 99999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = cache.GetByID(ctx, 99999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 2, backing.gets)
}

func TestCachedStore_RedisFailureFallsThrough(t *testing.T) {
	cache, backing, metrics, mr := newCacheFixture(t, true)
	ctx := context.Background()
	mr.SetError("ERR server unavailable")

	products, err := cache.List(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 3)
	assert.Equal(t, 1, backing.lists)
	assert.GreaterOrEqual(t, cacheCount(metrics, TierRedis, ResultError), 1.0)
}

func TestCachedStore_CorruptRedisEntry(t *testing.T) {
	cache, backing, metrics, mr := newCacheFixture(t, true)
	require.NoError(t, mr.Set(productKey(2), "not json"))

	p, err := cache.GetByID(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.ID)
	assert.Equal(t, 1, backing.gets)
	assert.Equal(t, 1.0, cacheCount(metrics, TierRedis, ResultError))
}

func TestCachedStore_PingAndPoolStats(t *testing.T) {
	cache, backing, _, _ := newCacheFixture(t, false)
	assert.NoError(t, cache.Ping(context.Background()))

	backing.SetPingError(storage.ErrUnavailable)
	assert.ErrorIs(t, cache.Ping(context.Background()), storage.ErrUnavailable)

	stats, err := cache.PoolStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Size)
}
