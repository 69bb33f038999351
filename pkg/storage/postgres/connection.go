package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL string
	// PoolSize is the number of connections kept idle
	PoolSize int
	// MaxOverflow is the number of connections allowed above PoolSize
	MaxOverflow int
	// Recycle is the maximum lifetime of a connection
	Recycle time.Duration
	// Timeout bounds the initial ping
	Timeout time.Duration
}

// Open opens a PostgreSQL pool sized from config. No connection is made until
// first use; the service reports DEGRADED health until the database is
// reachable.
func Open(config ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", normalizeURL(config.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	configurePool(db, config)
	return db, nil
}

// PingOnce checks the connection with the configured timeout
func PingOnce(db *sql.DB, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	return nil
}

func configurePool(db *sql.DB, config ConnectionConfig) {
	size := config.PoolSize
	if size <= 0 {
		size = 10
	}
	overflow := config.MaxOverflow
	if overflow < 0 {
		overflow = 0
	}
	db.SetMaxIdleConns(size)
	db.SetMaxOpenConns(size + overflow)
	if config.Recycle > 0 {
		db.SetConnMaxLifetime(config.Recycle)
	}
}

// normalizeURL accepts the postgresql:// scheme used by other drivers
func normalizeURL(raw string) string {
	if strings.HasPrefix(raw, "postgresql://") {
		return "postgres://" + strings.TrimPrefix(raw, "postgresql://")
	}
	return raw
}

// RedactURL returns host/database of a connection string without credentials
func RedactURL(raw string) string {
	u, err := url.Parse(normalizeURL(raw))
	if err != nil || u.Host == "" {
		return "N/A"
	}
	return u.Host + u.Path
}
