// Package cli provides the catalog command-line interface.
//
// # Commands
//
// serve: run the HTTP service until SIGINT/SIGTERM
//
//	DATABASE_URL=postgresql://postgres:postgres@db:5432/products_db catalog serve
//	DATABASE_URL=memory:// TRACING_ENABLED=false catalog serve
//
// init-db: create the products table and seed the sample catalog
//
//	catalog init-db
//
// probe: call a running backend inside one trace and print a report
//
//	catalog probe --backend-url http://localhost:5000 --slow
//
// # Startup
//
// serve initializes the tracer provider, opens the product store (PostgreSQL,
// or the in-process store for memory://), wraps it in the product cache
// (Redis tier when REDIS_URL is set), starts the pool collector and serves
// the API. Shutdown stops the listener, then closes the store and cache and
// flushes telemetry.
package cli
