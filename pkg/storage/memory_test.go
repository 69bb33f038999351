package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_InsertAndRead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Insert(ctx, &Product{Name: "Gadget", Price: 9.99, Category: "Misc"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	fetched, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, *created, *fetched)

	// Returned values are copies.
	fetched.Name = "mutated"
	again, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gadget", again.Name)
}

func TestMemoryStore_ListOrdered(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	empty, err := store.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, p := range SampleProducts() {
		_, err := store.Insert(ctx, p)
		require.NoError(t, err)
	}

	products, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, products, 10)
	for i, p := range products {
		assert.Equal(t, int64(i+1), p.ID)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	_, err := NewMemoryStore().GetByID(context.Background(), 99999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_InsertCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore()
	_, err := store.Insert(ctx, &Product{Name: "Gadget", Price: 1, Category: "Misc"})
	assert.ErrorIs(t, err, ErrUnavailable)

	products, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestMemoryStore_Ping(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.Ping(context.Background()))

	store.SetPingError(errors.New("connection refused"))
	assert.EqualError(t, store.Ping(context.Background()), "connection refused")

	store.SetPingError(nil)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestMemoryStore_ConcurrentInserts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Insert(ctx, &Product{Name: "Gadget", Price: 1, Category: "Misc"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	products, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 100)

	seen := make(map[int64]bool)
	for _, p := range products {
		assert.False(t, seen[p.ID], "duplicate id %d", p.ID)
		seen[p.ID] = true
	}

	stats, err := store.PoolStats()
	require.NoError(t, err)
	assert.Equal(t, PoolStats{Size: 1, CheckedOut: 0, Idle: 1}, stats)
}
