package observability

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropagator_Extract(t *testing.T) {
	p := NewPropagator()

	tests := []struct {
		name     string
		headers  map[string]string
		ok       bool
		traceID  string
		parentID string
	}{
		{
			name:     "w3c traceparent",
			headers:  map[string]string{"traceparent": "00-4bf92f3577b34da6a3ce929b0e0e4736-00f067aa0ba902b7-01"},
			ok:       true,
			traceID:  "4bf92f3577b34da6a3ce929b0e0e4736",
			parentID: "00f067aa0ba902b7",
		},
		{
			name:     "jaeger uber-trace-id",
			headers:  map[string]string{"uber-trace-id": "4bf92f3577b34da6a3ce929b0e0e4736:00f067aa0ba902b7:0:1"},
			ok:       true,
			traceID:  "4bf92f3577b34da6a3ce929b0e0e4736",
			parentID: "00f067aa0ba902b7",
		},
		{
			name:    "no headers",
			headers: nil,
		},
		{
			name:    "malformed traceparent",
			headers: map[string]string{"traceparent": "not-a-trace"},
		},
		{
			name:    "all zero trace id",
			headers: map[string]string{"traceparent": "00-00000000000000000000000000000000-00f067aa0ba902b7-01"},
		},
		{
			name:    "truncated traceparent",
			headers: map[string]string{"traceparent": "00-4bf92f3577b34da6a3ce929b0e0e4736"},
		},
		{
			name:    "garbage jaeger header",
			headers: map[string]string{"uber-trace-id": "zzz"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			parent, ok := p.Extract(h)
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.traceID, parent.TraceID().String())
			assert.Equal(t, tt.parentID, parent.SpanID().String())
		})
	}
}

func TestPropagator_InjectRoundTrip(t *testing.T) {
	p := NewPropagator()
	spans := NewSpanManager(nil)
	span := spans.StartSpan("call_backend_products", nil)
	defer span.Finish()

	h := http.Header{}
	p.Inject(span, h)
	assert.NotEmpty(t, h.Get("traceparent"))
	assert.NotEmpty(t, h.Get("uber-trace-id"))

	parent, ok := p.Extract(h)
	require.True(t, ok)
	assert.Equal(t, span.TraceID(), parent.TraceID())
	assert.Equal(t, span.SpanID(), parent.SpanID())

	child := spans.StartSpan("GET /products", &parent)
	defer child.Finish()
	assert.Equal(t, span.TraceID(), child.TraceID())
	parentID, _ := child.ParentSpanID()
	assert.Equal(t, span.SpanID(), parentID)
}

func TestPropagator_InjectNil(t *testing.T) {
	p := NewPropagator()
	assert.NotPanics(t, func() {
		p.Inject(nil, http.Header{})
		p.Inject(NewSpanManager(nil).StartSpan("x", nil), nil)
	})
}
