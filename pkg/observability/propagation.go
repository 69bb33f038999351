package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/propagators/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ParentContext identifies the remote parent of an inbound request
type ParentContext struct {
	SpanContext trace.SpanContext
}

// TraceID returns the parent's trace identifier
func (p ParentContext) TraceID() trace.TraceID {
	return p.SpanContext.TraceID()
}

// SpanID returns the parent's span identifier
func (p ParentContext) SpanID() trace.SpanID {
	return p.SpanContext.SpanID()
}

// Propagator reads and writes trace context on HTTP headers. It understands
// W3C Trace Context (traceparent/tracestate), the Jaeger uber-trace-id header
// and W3C baggage.
type Propagator struct {
	carrier propagation.TextMapPropagator
}

// NewPropagator creates a propagator for the supported header formats
func NewPropagator() *Propagator {
	return &Propagator{carrier: TextMapPropagator()}
}

// TextMapPropagator returns the composite propagator used for inbound and
// outbound requests. It is also installed globally by InitOTel.
func TextMapPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		jaeger.Jaeger{},
		propagation.Baggage{},
	)
}

// Extract parses the parent context from headers. Absent, malformed or
// partial headers yield false; extraction never fails the request.
func (p *Propagator) Extract(headers http.Header) (ParentContext, bool) {
	if len(headers) == 0 {
		return ParentContext{}, false
	}
	ctx := p.carrier.Extract(context.Background(), propagation.HeaderCarrier(headers))
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ParentContext{}, false
	}
	return ParentContext{SpanContext: sc}, true
}

// Inject writes the span identity into outbound headers
func (p *Propagator) Inject(span *Span, headers http.Header) {
	if span == nil || headers == nil {
		return
	}
	ctx := trace.ContextWithSpanContext(context.Background(), span.SpanContext())
	p.carrier.Inject(ctx, propagation.HeaderCarrier(headers))
}
