package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/catalog/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id         SERIAL PRIMARY KEY,
	name       VARCHAR(200) NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	category   VARCHAR(100) NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT (NOW() AT TIME ZONE 'utc')
)`

// Store implements storage.ProductStore on PostgreSQL
type Store struct {
	db       *sql.DB
	poolSize int
}

// NewStore wraps an open connection pool. poolSize is the configured number
// of pooled connections, reported by PoolStats.
func NewStore(db *sql.DB, poolSize int) *Store {
	return &Store{db: db, poolSize: poolSize}
}

// CreateSchema creates the products table if it does not exist
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return storage.Unavailable("create schema", err)
	}
	return nil
}

// Count returns the number of stored products
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, storage.Unavailable("count products", err)
	}
	return n, nil
}

// Seed inserts products when the table is empty and returns how many were
// inserted
func (s *Store) Seed(ctx context.Context, products []*storage.Product) (int, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	for i, p := range products {
		if _, err := s.Insert(ctx, p); err != nil {
			return i, err
		}
	}
	return len(products), nil
}

// List returns every product ordered by identifier
func (s *Store) List(ctx context.Context) ([]*storage.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, price, category, created_at FROM products ORDER BY id`)
	if err != nil {
		return nil, storage.Unavailable("list products", err)
	}
	defer rows.Close()

	products := make([]*storage.Product, 0)
	for rows.Next() {
		var p storage.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.CreatedAt); err != nil {
			return nil, storage.Unavailable("scan product", err)
		}
		products = append(products, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("list products", err)
	}
	return products, nil
}

// GetByID returns one product or storage.ErrNotFound
func (s *Store) GetByID(ctx context.Context, id int64) (*storage.Product, error) {
	var p storage.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, price, category, created_at FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Unavailable(fmt.Sprintf("get product %d", id), err)
	}
	return &p, nil
}

// Insert stores product in a transaction; any failure rolls it back
func (s *Store) Insert(ctx context.Context, product *storage.Product) (*storage.Product, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Unavailable("begin insert", err)
	}

	created := *product
	err = tx.QueryRowContext(ctx,
		`INSERT INTO products (name, price, category) VALUES ($1, $2, $3) RETURNING id, created_at`,
		product.Name, product.Price, product.Category,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return nil, storage.Unavailable("insert product", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storage.Unavailable("commit product", err)
	}
	return &created, nil
}

// Ping runs a trivial query against the database
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// PoolStats reports the configured pool size and live connection counts
func (s *Store) PoolStats() (storage.PoolStats, error) {
	stats := s.db.Stats()
	size := s.poolSize
	if size <= 0 {
		size = stats.MaxOpenConnections
	}
	return storage.PoolStats{
		Size:       size,
		CheckedOut: stats.InUse,
		Idle:       stats.Idle,
	}, nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}
