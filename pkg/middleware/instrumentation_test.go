package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/platinummonkey/catalog/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a goroutine safe log sink
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) records(t *testing.T) []map[string]interface{} {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), scanner.Text())
		out = append(out, rec)
	}
	return out
}

type fixture struct {
	spans   *observability.SpanManager
	metrics *observability.Registry
	logs    *syncBuffer
	inst    *Instrumentation
}

func newFixture() *fixture {
	logs := &syncBuffer{}
	f := &fixture{
		spans:   observability.NewSpanManager(nil),
		metrics: observability.NewRegistry(),
		logs:    logs,
	}
	f.inst = NewInstrumentation(
		observability.NewPropagator(),
		f.spans,
		observability.NewLogger("backend", observability.DebugLevel, logs),
		f.metrics,
	)
	return f
}

func (f *fixture) serve(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.inst.Handler(h).ServeHTTP(w, r)
	return w
}

func TestInstrumentation_Success(t *testing.T) {
	f := newFixture()
	var span *observability.Span

	w := f.serve(func(w http.ResponseWriter, r *http.Request) {
		span = observability.SpanFromContext(r.Context())
		observability.FromContext(r.Context()).Info("handling")
		w.WriteHeader(http.StatusOK)
	}, httptest.NewRequest(http.MethodGet, "/products?limit=1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, span)
	assert.True(t, span.Finished())
	assert.False(t, span.IsError())
	assert.Equal(t, "GET /products", span.OperationName())
	code, _ := span.Tag("http.status_code")
	assert.Equal(t, 200, code)
	kind, _ := span.Tag("span.kind")
	assert.Equal(t, "server", kind)

	stats := f.spans.Stats()
	assert.Equal(t, stats.Started, stats.Finished)

	records := f.logs.records(t)
	require.Len(t, records, 3)
	assert.Equal(t, "request received", records[0]["message"])
	assert.Equal(t, "handling", records[1]["message"])
	assert.Equal(t, "request completed", records[2]["message"])
	for _, rec := range records {
		assert.Equal(t, "INFO", rec["level"])
		assert.Equal(t, span.TraceID().String(), rec["trace_id"])
		assert.Equal(t, span.SpanID().String(), rec["span_id"])
	}
	assert.EqualValues(t, 200, records[2]["status"])

	v, ok := f.metrics.Value(observability.MetricHTTPRequests,
		observability.Labels{"method": "GET", "path": "/products", "status": "200"})
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestInstrumentation_ErrorStatusMarksSpan(t *testing.T) {
	f := newFixture()
	var span *observability.Span

	f.serve(func(w http.ResponseWriter, r *http.Request) {
		span = observability.SpanFromContext(r.Context())
		w.WriteHeader(http.StatusNotFound)
	}, httptest.NewRequest(http.MethodGet, "/products/99999", nil))

	require.NotNil(t, span)
	assert.True(t, span.IsError())
	assert.True(t, span.Finished())
}

func TestInstrumentation_PanicFinishesSpan(t *testing.T) {
	f := newFixture()
	var span *observability.Span

	w := f.serve(func(w http.ResponseWriter, r *http.Request) {
		span = observability.SpanFromContext(r.Context())
		child := f.spans.StartChild(span, "db_query_products")
		defer child.Finish()
		panic("boom")
	}, httptest.NewRequest(http.MethodGet, "/products", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "boom")
	require.NotNil(t, span)
	assert.True(t, span.Finished())
	assert.True(t, span.IsError())

	stats := f.spans.Stats()
	assert.Equal(t, int64(2), stats.Started)
	assert.Equal(t, stats.Started, stats.Finished)

	records := f.logs.records(t)
	var errors, completed int
	for _, rec := range records {
		if rec["level"] == "ERROR" {
			errors++
		}
		if rec["message"] == "request completed" {
			completed++
			assert.EqualValues(t, 500, rec["status"])
		}
	}
	assert.Equal(t, 1, errors)
	assert.Equal(t, 1, completed)
}

func TestInstrumentation_PanicAfterHeaderKeepsStatus(t *testing.T) {
	f := newFixture()
	var span *observability.Span

	w := f.serve(func(w http.ResponseWriter, r *http.Request) {
		span = observability.SpanFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	stats := f.spans.Stats()
	assert.Equal(t, stats.Started, stats.Finished)

	require.NotNil(t, span)
	assert.True(t, span.Finished())
	assert.True(t, span.IsError(), "a panicking request is a failed request")
	status, _ := span.Tag("http.status_code")
	assert.Equal(t, http.StatusAccepted, status)
}

func TestInstrumentation_AbortHandlerRepanics(t *testing.T) {
	f := newFixture()

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		f.serve(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}, httptest.NewRequest(http.MethodGet, "/", nil))
	})

	stats := f.spans.Stats()
	assert.Equal(t, int64(1), stats.Finished)
}

func TestInstrumentation_ContinuesIncomingTrace(t *testing.T) {
	f := newFixture()
	var span *observability.Span

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	f.serve(func(w http.ResponseWriter, r *http.Request) {
		span = observability.SpanFromContext(r.Context())
	}, r)

	require.NotNil(t, span)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.TraceID().String())
	parent, ok := span.ParentSpanID()
	assert.True(t, ok)
	assert.Equal(t, "00f067aa0ba902b7", parent.String())
	assert.NotEqual(t, "00f067aa0ba902b7", span.SpanID().String())
}

func TestInstrumentation_MalformedTraceStartsRoot(t *testing.T) {
	f := newFixture()
	var span *observability.Span

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("traceparent", "00-not-a-trace-01")
	r.Header.Set("uber-trace-id", "garbage")
	f.serve(func(w http.ResponseWriter, r *http.Request) {
		span = observability.SpanFromContext(r.Context())
	}, r)

	require.NotNil(t, span)
	assert.True(t, span.TraceID().IsValid())
	assert.NotEqual(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.TraceID().String())
	_, ok := span.ParentSpanID()
	assert.False(t, ok)
}

func TestInstrumentation_RouteNamer(t *testing.T) {
	f := newFixture()
	f.inst = NewInstrumentation(observability.NewPropagator(), f.spans,
		observability.NewLogger("backend", observability.InfoLevel, f.logs), f.metrics,
		WithRouteNamer(func(*http.Request) string { return "/products/{id}" }))

	f.serve(func(w http.ResponseWriter, r *http.Request) {}, httptest.NewRequest(http.MethodGet, "/products/7", nil))

	v, ok := f.metrics.Value(observability.MetricHTTPRequests,
		observability.Labels{"method": "GET", "path": "/products/{id}", "status": "200"})
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestInstrumentation_ConcurrentRequestsIsolated(t *testing.T) {
	f := newFixture()
	const n = 50

	var mu sync.Mutex
	seen := make(map[string]bool)
	handler := f.inst.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := observability.SpanFromContext(r.Context())
		mu.Lock()
		seen[span.SpanID().String()] = true
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/products", nil))
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	stats := f.spans.Stats()
	assert.Equal(t, int64(n), stats.Started)
	assert.Equal(t, int64(n), stats.Finished)

	v, _ := f.metrics.Value(observability.MetricHTTPRequests,
		observability.Labels{"method": "GET", "path": "/products", "status": "200"})
	assert.Equal(t, float64(n), v)
}
