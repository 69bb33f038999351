// Package config provides application configuration management from environment variables.
//
// # Overview
//
// Configuration is loaded with envconfig; every setting has a default so the
// service starts with no environment at all.
//
// # Configuration Structure
//
// Server settings:
//
//	HOST="0.0.0.0"
//	PORT="5000"
//	CORS_ORIGINS="*"                 # comma separated
//	SLOW_ENDPOINT_DELAY="5"          # seconds
//	SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	DATABASE_URL="postgresql://postgres:postgres@db:5432/products_db?sslmode=disable"
//	DATABASE_URL="memory://"         # in-process store
//	DB_POOL_SIZE="10"
//	DB_MAX_OVERFLOW="20"
//	DB_POOL_RECYCLE="3600"           # seconds
//
// Cache settings:
//
//	REDIS_URL="redis://redis:6379/0" # empty keeps only the in-process tier
//	CACHE_TTL="5m"
//
// Tracing settings:
//
//	TRACING_ENABLED="true"
//	JAEGER_SERVICE_NAME="backend-service"
//	JAEGER_SAMPLER_TYPE="const"      # const, probabilistic, ratelimiting
//	JAEGER_SAMPLER_PARAM="1"
//	JAEGER_AGENT_HOST="jaeger"
//	JAEGER_AGENT_PORT="4317"         # OTLP gRPC
//
// Observability settings:
//
//	LOG_LEVEL="info"
//	SERVICE_NAME="backend"
//	OTEL_METRICS_ENABLED="false"
//	HEALTH_PROBE_TIMEOUT="5s"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	server := &http.Server{Addr: cfg.Addr()}
package config
