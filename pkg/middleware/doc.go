// Package middleware provides the request instrumentation middleware.
//
// # Instrumentation
//
// Every inbound request gets a server span named "<METHOD> <PATH>", started
// from the extracted trace parent when one is present, and a request scoped
// logger carrying the span identity:
//
//	inst := middleware.NewInstrumentation(propagator, spans, logger, metrics,
//		middleware.WithRouteNamer(httputil.RouteTemplate(router)))
//	handler := inst.Handler(router)
//
// Handlers reach the span through the request context:
//
//	span := observability.SpanFromContext(r.Context())
//	child := spans.StartChild(span, "db_query_products")
//	defer child.Finish()
//
// On completion the span is tagged with http.status_code, marked errored for
// status >= 400 and finished; "request completed" is logged at INFO and
// http_requests_total / http_request_duration_seconds are recorded. The same
// sequence runs when the handler panics.
package middleware
