package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/platinummonkey/catalog/pkg/api"
	"github.com/platinummonkey/catalog/pkg/config"
	"github.com/platinummonkey/catalog/pkg/observability"
	"github.com/platinummonkey/catalog/pkg/storage"
	"github.com/platinummonkey/catalog/pkg/storage/postgres"
)

// application is the wired service: telemetry providers, store, cache,
// health and the HTTP handler.
type application struct {
	cfg       *config.Config
	logger    *observability.Logger
	providers *observability.OTelProviders
	spans     *observability.SpanManager
	metrics   *observability.Registry
	store     storage.ProductStore
	health    *observability.HealthAggregator
	server    *api.Server

	stopCollector func()
}

func newLogger(cfg *config.Config, out io.Writer) *observability.Logger {
	return observability.NewLogger(cfg.Observability.ServiceName, cfg.LogLevel(), out)
}

// newApplication wires every component from cfg. On error, anything already
// opened is released.
func newApplication(ctx context.Context, cfg *config.Config, logger *observability.Logger) (_ *application, err error) {
	app := &application{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.close(context.Background())
		}
	}()

	app.providers, err = observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app.spans = observability.NewSpanManager(app.providers.TracerProvider)
	app.metrics = observability.NewRegistry()
	if app.providers.MeterProvider != nil {
		app.metrics.MirrorTo(app.providers.MeterProvider.Meter("github.com/platinummonkey/catalog"), func(err error) {
			logger.WithError(err).Debug("Failed to mirror metric")
		})
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.store = store

	healthOpts := []observability.HealthOption{
		observability.WithProbeTimeout(cfg.Observability.HealthProbeTimeout),
	}

	var redis *postgres.RedisClient
	if cfg.Cache.RedisURL != "" {
		redis, err = postgres.NewRedisClient(postgres.RedisConfig{URL: cfg.Cache.RedisURL, TTL: cfg.Cache.TTL})
		if err != nil {
			// The cache is optional; reads go straight to the store.
			logger.WithError(err).Warn("Redis unavailable, using the in-process cache only")
		} else {
			healthOpts = append(healthOpts, observability.WithCache(redis))
		}
	}
	app.store = postgres.NewCachedStore(app.store, redis, postgres.CacheConfig{
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        cfg.Cache.TTL,
	}, app.metrics, logger)

	app.health = observability.NewHealthAggregator(app.store, app.metrics, app.spans, logger, healthOpts...)
	if schedule := cfg.Observability.PoolCollectorSchedule; schedule != "" {
		app.stopCollector, err = app.health.StartPoolCollector(schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid pool collector schedule %q: %w", schedule, err)
		}
	}

	app.server = api.NewServer(api.Dependencies{
		Store:      app.store,
		Health:     app.health,
		Spans:      app.spans,
		Propagator: observability.NewPropagator(),
		Metrics:    app.metrics,
		Logger:     logger,
	}, api.Options{
		SlowDelay:   time.Duration(cfg.Server.SlowEndpointDelay * float64(time.Second)),
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	return app, nil
}

// openStore returns the configured product store. The in-process store is
// seeded with the sample catalog; a PostgreSQL store is used as is.
func openStore(ctx context.Context, cfg *config.Config, logger *observability.Logger) (storage.ProductStore, error) {
	if cfg.UsesMemoryStore() {
		store := storage.NewMemoryStore()
		for _, p := range storage.SampleProducts() {
			if _, err := store.Insert(ctx, p); err != nil {
				return nil, fmt.Errorf("failed to seed memory store: %w", err)
			}
		}
		logger.Info("Using the in-process product store")
		return store, nil
	}

	db, err := postgres.Open(postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		PoolSize:    cfg.Database.PoolSize,
		MaxOverflow: cfg.Database.MaxOverflow,
		Recycle:     cfg.PoolRecycle(),
	})
	if err != nil {
		return nil, err
	}
	return postgres.NewStore(db, cfg.Database.PoolSize), nil
}

// close releases the collector, store and telemetry providers
func (a *application) close(ctx context.Context) error {
	var firstErr error
	if a.stopCollector != nil {
		a.stopCollector()
		a.stopCollector = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close product store")
			firstErr = err
		}
		a.store = nil
	}
	if a.providers != nil {
		if err := observability.ShutdownOTel(ctx, a.providers, a.logger); err != nil && firstErr == nil {
			firstErr = err
		}
		a.providers = nil
	}
	return firstErr
}
