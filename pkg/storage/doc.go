// Package storage defines the product catalog data model and the store
// abstraction used by the HTTP handlers.
//
// # Stores
//
// ProductStore composes ProductReader and ProductWriter with Ping and Close.
// Two implementations exist:
//
//   - MemoryStore: in-process, selected with DATABASE_URL=memory:// and used in tests
//   - postgres.Store: PostgreSQL through lib/pq, optionally wrapped by
//     postgres.CachedStore (in-process LRU plus Redis)
//
// # Errors
//
// Stores return ErrNotFound for unknown identifiers and wrap driver failures
// with ErrUnavailable so handlers can map them without inspecting driver
// types:
//
//	product, err := store.GetByID(ctx, id)
//	switch {
//	case errors.Is(err, storage.ErrNotFound):
//		// 404
//	case err != nil:
//		// 500
//	}
//
// Product.Validate returns a *ValidationError naming the offending field.
package storage
