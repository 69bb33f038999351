// Package client is the outbound side of the catalog's trace propagation: a
// small HTTP client for the backend that opens a client span per call and
// injects its identity as traceparent and uber-trace-id headers, so the
// backend's server span joins the caller's trace.
//
//	c := client.New("http://backend:5000", spans, observability.NewPropagator(), logger)
//	products, err := c.ListProducts(ctx)
//
// Responses with a 4xx or 5xx status are returned as *StatusError.
package client
