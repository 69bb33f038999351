// Package observability provides the per-request observability pipeline:
// trace-context propagation, span lifecycle, structured logging enriched with
// trace identity, metrics, and dependency health.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger("backend", observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 5000).Info("Server started")
//
// Records are single-line JSON with timestamp, level, service and message.
// A logger bound to a request context adds trace_id and span_id:
//
//	observability.FromContext(r.Context()).Warn("Product not found")
//
// # Tracing
//
// Spans are started from an extracted parent (or as roots) and travel in the
// request context; they are never held in package state:
//
//	parent, ok := propagator.Extract(r.Header)
//	span := spans.StartSpan("GET /products", parentOrNil)
//	defer span.Finish()
//	ctx := observability.ContextWithSpan(r.Context(), span)
//
// Child spans are opened from the request span:
//
//	child := spans.StartChild(observability.SpanFromContext(ctx), "db_query_products")
//	defer child.Finish()
//
// Finish is idempotent.
//
// # Metrics
//
//	metrics := observability.NewRegistry()
//	metrics.IncrementCounter(observability.MetricDatabaseQueries,
//		observability.Labels{"operation": "SELECT", "table": "products"})
//
// The registry is exposed through Registry.Handler on /metrics and can be
// mirrored to an OpenTelemetry meter with Registry.MirrorTo.
//
// # Health Checks
//
//	health := observability.NewHealthAggregator(store, metrics, spans, logger)
//	status := health.Check(ctx, span)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		TracingEnabled: true,
//		Endpoint:       "jaeger:4317",
//		ServiceName:    "backend-service",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
