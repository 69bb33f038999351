package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Overall health states
const (
	StatusUp       = "UP"
	StatusDegraded = "DEGRADED"
)

// Component states
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
)

// Component names reported in HealthStatus.Components
const (
	ComponentDatabase = "database"
	ComponentCache    = "cache"
)

// Pinger is a dependency that can be probed for reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolStats describes a dependency's connection pool
type PoolStats struct {
	Size       int
	CheckedOut int
	Idle       int
}

// PoolStatsProvider is implemented by dependencies exposing pool statistics
type PoolStatsProvider interface {
	PoolStats() (PoolStats, error)
}

// HealthStatus represents the overall health status. It is computed on
// every probe and never cached.
type HealthStatus struct {
	Status     string                     `json:"status"`
	Service    string                     `json:"service"`
	Timestamp  time.Time                  `json:"timestamp"`
	Database   string                     `json:"database"`
	Components map[string]ComponentStatus `json:"components"`
}

// ComponentStatus represents the health of a single dependency
type ComponentStatus struct {
	State     string  `json:"state"`
	Detail    string  `json:"detail,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// HealthAggregator probes the data store, and optionally a cache, and
// composes the service health.
type HealthAggregator struct {
	database Pinger
	cache    Pinger
	metrics  *Registry
	spans    *SpanManager
	logger   *Logger
	timeout  time.Duration
}

// HealthOption configures a HealthAggregator
type HealthOption func(*HealthAggregator)

// WithCache adds an optional cache component. Its failure is reported but
// does not degrade the overall status.
func WithCache(cache Pinger) HealthOption {
	return func(h *HealthAggregator) {
		h.cache = cache
	}
}

// WithProbeTimeout bounds every dependency probe
func WithProbeTimeout(timeout time.Duration) HealthOption {
	return func(h *HealthAggregator) {
		h.timeout = timeout
	}
}

// NewHealthAggregator creates a new health aggregator over the data store
func NewHealthAggregator(database Pinger, metrics *Registry, spans *SpanManager, logger *Logger, opts ...HealthOption) *HealthAggregator {
	h := &HealthAggregator{
		database: database,
		metrics:  metrics,
		spans:    spans,
		logger:   logger,
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check probes every dependency under a "dependency_health_check" child of
// parent and returns the composed status. It always returns a status.
func (h *HealthAggregator) Check(ctx context.Context, parent *Span) HealthStatus {
	span := h.spans.StartChild(parent, "dependency_health_check")
	defer span.Finish()

	status := HealthStatus{
		Status:     StatusUp,
		Service:    h.logger.Service(),
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentStatus),
	}

	var dbStatus, cacheStatus ComponentStatus
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dbStatus = h.probe(gctx, h.database)
		return nil
	})
	if h.cache != nil {
		g.Go(func() error {
			cacheStatus = h.probe(gctx, h.cache)
			return nil
		})
	}
	_ = g.Wait()

	log := h.logger.WithContext(ctx)

	status.Database = dbStatus.State
	status.Components[ComponentDatabase] = dbStatus
	span.SetTag("db.state", dbStatus.State)

	cacheDown := false
	if h.cache != nil {
		status.Components[ComponentCache] = cacheStatus
		span.SetTag("cache.state", cacheStatus.State)
		cacheDown = cacheStatus.State != StateConnected
	}

	// A degraded check answers 503 and gets exactly one ERROR record, which
	// also carries the cache failure; a cache failure alone is a WARN.
	if dbStatus.State == StateConnected {
		h.reportPool(log)
		log.Debug("Database reachable")
		if cacheDown {
			log.WithField("error", cacheStatus.Detail).Warn("Cache unreachable")
		}
	} else {
		status.Status = StatusDegraded
		span.SetError()
		record := log.WithField("error", dbStatus.Detail)
		if cacheDown {
			record = record.WithField("cache_error", cacheStatus.Detail)
		}
		record.Error("Database connection failed")
	}

	span.SetTag("health.status", status.Status)
	return status
}

func (h *HealthAggregator) probe(ctx context.Context, dep Pinger) ComponentStatus {
	if dep == nil {
		return ComponentStatus{State: StateDisconnected, Detail: "not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := dep.Ping(ctx)
	status := ComponentStatus{
		State:     StateConnected,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		status.State = StateDisconnected
		status.Detail = err.Error()
	}
	return status
}

// reportPool publishes pool gauges. Reporting is best-effort: a dependency
// without pool statistics, or one failing to produce them, is skipped.
func (h *HealthAggregator) reportPool(log *Logger) {
	provider, ok := h.database.(PoolStatsProvider)
	if !ok {
		return
	}
	stats, err := provider.PoolStats()
	if err != nil {
		log.WithError(err).Debug("Pool statistics unavailable")
		return
	}
	for state, value := range map[string]int{
		"size":        stats.Size,
		"checked_out": stats.CheckedOut,
		"idle":        stats.Idle,
	} {
		if err := h.metrics.SetGauge(MetricConnectionPool, Labels{"status": state}, float64(value)); err != nil {
			log.WithError(err).Debug("Failed to record pool gauge")
		}
	}
}

// Handler serves GET /health: 200 when UP, 503 when DEGRADED
func (h *HealthAggregator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("Health check requested")

		status := h.Check(r.Context(), SpanFromContext(r.Context()))

		code := http.StatusOK
		if status.Status != StatusUp {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(status); err != nil {
			h.logger.WithError(err).Error("Failed to encode health status")
		}
	}
}

// StartPoolCollector refreshes pool gauges on a cron schedule between health
// probes. The returned function stops the collector.
func (h *HealthAggregator) StartPoolCollector(schedule string) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		defer RecoverPanic(h.logger, "pool collector")
		h.reportPool(h.logger)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return func() {
		<-c.Stop().Done()
	}, nil
}
