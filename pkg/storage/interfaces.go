package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/catalog/pkg/observability"
)

var (
	// ErrNotFound is returned when no product has the requested identifier
	ErrNotFound = errors.New("product not found")

	// ErrUnavailable wraps failures of the backing store (connection refused,
	// timeouts, failed commits)
	ErrUnavailable = errors.New("store unavailable")
)

// ValidationError reports a product field that failed validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Product is one catalog record
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields required to insert a product
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Message: "product name is required"}
	}
	if p.Price <= 0 {
		return &ValidationError{Field: "price", Message: "price must be greater than 0"}
	}
	if strings.TrimSpace(p.Category) == "" {
		return &ValidationError{Field: "category", Message: "category is required"}
	}
	return nil
}

// ProductReader reads products
type ProductReader interface {
	// List returns every product ordered by identifier
	List(ctx context.Context) ([]*Product, error)
	// GetByID returns ErrNotFound when the identifier is unknown
	GetByID(ctx context.Context, id int64) (*Product, error)
}

// Source tells which layer answered a read
type Source string

const (
	// SourceStore means the read reached the backing store
	SourceStore Source = "store"
	// SourceCache means a cache answered without touching the store
	SourceCache Source = "cache"
)

// SourcedReader is implemented by caching layers that can tell whether a
// read reached the backing store.
type SourcedReader interface {
	ListSourced(ctx context.Context) ([]*Product, Source, error)
	GetByIDSourced(ctx context.Context, id int64) (*Product, Source, error)
}

// ReadList lists products through r and reports which layer answered.
// Readers that do not cache always report SourceStore.
func ReadList(ctx context.Context, r ProductReader) ([]*Product, Source, error) {
	if sr, ok := r.(SourcedReader); ok {
		return sr.ListSourced(ctx)
	}
	products, err := r.List(ctx)
	return products, SourceStore, err
}

// ReadByID reads one product through r and reports which layer answered
func ReadByID(ctx context.Context, r ProductReader, id int64) (*Product, Source, error) {
	if sr, ok := r.(SourcedReader); ok {
		return sr.GetByIDSourced(ctx, id)
	}
	product, err := r.GetByID(ctx, id)
	return product, SourceStore, err
}

// ProductWriter inserts products
type ProductWriter interface {
	// Insert stores a validated product and returns it with its assigned
	// identifier and creation time. Partial writes are rolled back.
	Insert(ctx context.Context, product *Product) (*Product, error)
}

// ProductStore is the data access collaborator of the HTTP handlers
type ProductStore interface {
	ProductReader
	ProductWriter
	Ping(ctx context.Context) error
	Close() error
}

// PoolStats describes the connection pool of a store
type PoolStats = observability.PoolStats

// Unavailable wraps a driver error as ErrUnavailable, keeping its message
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// SampleProducts is the seed catalog inserted by init-db into an empty store
func SampleProducts() []*Product {
	return []*Product{
		{Name: `MacBook Pro 16"`, Price: 2899.99, Category: "Computers"},
		{Name: "iPhone 15 Pro", Price: 1299.00, Category: "Smartphones"},
		{Name: "AirPods Pro", Price: 279.00, Category: "Audio"},
		{Name: "iPad Air", Price: 699.00, Category: "Tablets"},
		{Name: "Apple Watch Series 9", Price: 449.00, Category: "Watches"},
		{Name: "Magic Keyboard", Price: 129.00, Category: "Accessories"},
		{Name: "Magic Mouse", Price: 89.00, Category: "Accessories"},
		{Name: "Studio Display", Price: 1799.00, Category: "Displays"},
		{Name: "HomePod Mini", Price: 109.00, Category: "Audio"},
		{Name: "Mac Mini M2", Price: 699.00, Category: "Computers"},
	}
}
