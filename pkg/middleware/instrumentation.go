package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/catalog/pkg/httputil"
	"github.com/platinummonkey/catalog/pkg/observability"
)

// Instrumentation wraps every inbound request in a server span, request
// scoped logger, completion log and HTTP metrics.
type Instrumentation struct {
	propagator *observability.Propagator
	spans      *observability.SpanManager
	logger     *observability.Logger
	metrics    *observability.Registry
	routeName  func(*http.Request) string
}

// InstrumentationOption configures an Instrumentation
type InstrumentationOption func(*Instrumentation)

// WithRouteNamer sets the function naming requests in metric labels. The
// default uses the raw URL path.
func WithRouteNamer(namer func(*http.Request) string) InstrumentationOption {
	return func(m *Instrumentation) {
		m.routeName = namer
	}
}

// NewInstrumentation creates the request instrumentation middleware
func NewInstrumentation(propagator *observability.Propagator, spans *observability.SpanManager, logger *observability.Logger, metrics *observability.Registry, opts ...InstrumentationOption) *Instrumentation {
	m := &Instrumentation{
		propagator: propagator,
		spans:      spans,
		logger:     logger,
		metrics:    metrics,
		routeName:  func(r *http.Request) string { return r.URL.Path },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps next. The span is finished and the completion line logged on
// every exit path, including a panicking handler, which is answered with a
// 500 JSON body when no response has been started.
func (m *Instrumentation) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var parent *observability.ParentContext
		if pc, ok := m.propagator.Extract(r.Header); ok {
			parent = &pc
		}

		span := m.spans.StartSpan(r.Method+" "+r.URL.Path, parent)
		span.SetTag("span.kind", "server")
		span.SetTag("http.method", r.Method)
		span.SetTag("http.url", r.URL.String())
		span.SetTag("http.path", r.URL.Path)

		ctx := observability.ContextWithSpan(r.Context(), span)
		ctx = observability.WithLogger(ctx, m.logger)
		r = r.WithContext(ctx)
		log := observability.FromContext(ctx)

		log.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
		}).Info("request received")

		rw := httputil.NewResponseWriter(w)

		defer func() {
			rec := recover()
			if rec == http.ErrAbortHandler {
				m.complete(r, rw, span, log, start)
				panic(rec)
			}
			if rec != nil {
				err := observability.PanicError(rec)
				observability.LogPanic(log, r.Method+" "+r.URL.Path, rec)
				span.SetError()
				span.LogEvent(map[string]interface{}{"event": "error", "error.object": err.Error()})
				if !rw.WroteHeader() {
					httputil.WriteInternalError(rw, err)
				}
			}
			m.complete(r, rw, span, log, start)
		}()

		next.ServeHTTP(rw, r)
	})
}

func (m *Instrumentation) complete(r *http.Request, rw *httputil.ResponseWriter, span *observability.Span, log *observability.Logger, start time.Time) {
	status := rw.Status()
	span.SetTag("http.status_code", status)
	if status >= http.StatusBadRequest {
		span.SetError()
	}
	span.Finish()

	duration := time.Since(start)
	log.WithFields(map[string]interface{}{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status":      status,
		"duration_ms": float64(duration.Microseconds()) / 1000,
	}).Info("request completed")

	route := m.routeName(r)
	if err := m.metrics.IncrementCounter(observability.MetricHTTPRequests, observability.Labels{
		"method": r.Method,
		"path":   route,
		"status": fmt.Sprintf("%d", status),
	}); err != nil {
		log.WithError(err).Debug("Failed to record request counter")
	}
	if err := m.metrics.ObserveHistogram(observability.MetricHTTPRequestDuration, observability.Labels{
		"method": r.Method,
		"path":   route,
	}, duration.Seconds()); err != nil {
		log.WithError(err).Debug("Failed to record request duration")
	}
}
