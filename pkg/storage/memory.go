package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process ProductStore, used when DATABASE_URL selects
// memory:// and in tests
type MemoryStore struct {
	mu       sync.RWMutex
	products map[int64]*Product
	order    []int64
	nextID   int64
	pingErr  error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[int64]*Product),
		nextID:   1,
	}
}

// SetPingError makes Ping fail with err (nil restores it)
func (s *MemoryStore) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

// List returns every product ordered by identifier
func (s *MemoryStore) List(ctx context.Context) ([]*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Product, 0, len(s.order))
	for _, id := range s.order {
		p := *s.products[id]
		out = append(out, &p)
	}
	return out, nil
}

// GetByID returns the product or ErrNotFound
func (s *MemoryStore) GetByID(ctx context.Context, id int64) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

// Insert assigns the next identifier and stores a copy of product
func (s *MemoryStore) Insert(ctx context.Context, product *Product) (*Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("insert product", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *product
	stored.ID = s.nextID
	stored.CreatedAt = time.Now().UTC()
	s.nextID++
	s.products[stored.ID] = &stored
	s.order = append(s.order, stored.ID)

	out := stored
	return &out, nil
}

// Ping reports the configured ping error
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pingErr
}

// PoolStats reports a single always-available connection
func (s *MemoryStore) PoolStats() (PoolStats, error) {
	return PoolStats{Size: 1, CheckedOut: 0, Idle: 1}, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
