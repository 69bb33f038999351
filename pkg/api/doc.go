// Package api provides the HTTP surface of the product catalog service.
//
// # Routes
//
//	GET  /health          dependency health, 200 UP or 503 DEGRADED
//	GET  /products        every product ordered by id
//	GET  /products/{id}   one product, 404 {error, product_id} when unknown
//	POST /products        create a product, 201 or 400 {error, message}
//	GET  /slow            answers after the configured delay
//	GET  /error           always 500, naming an injected fault
//	GET  /metrics         Prometheus exposition
//
// Unknown routes answer 404 {error, path}; known routes with the wrong method
// answer 405 {error, path}.
//
// # Usage
//
//	server := api.NewServer(api.Dependencies{
//		Store:      store,
//		Health:     health,
//		Spans:      spans,
//		Propagator: observability.NewPropagator(),
//		Metrics:    metrics,
//		Logger:     logger,
//	}, api.Options{SlowDelay: 5 * time.Second, CORSOrigins: []string{"*"}})
//	http.ListenAndServe(":5000", server)
//
// Every request passes through request-id, CORS and instrumentation
// middleware; handlers open child spans for store access and count each
// access in database_queries_total.
//
// # Error Handling
//
// Validation failures and unknown products are logged at WARN; store failures
// and injected faults at ERROR. Each 4xx/5xx response produces exactly one
// such record.
package api
