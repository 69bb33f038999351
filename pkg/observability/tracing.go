package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// SpanEvent is a point-in-time annotation attached to a span
type SpanEvent struct {
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Span is one traced operation. It wraps an OpenTelemetry span and keeps a
// local record of its tags, events and timing so the lifecycle can be
// inspected and enforced: a span is started once, tagged any number of
// times, and finished exactly once. Mutations after Finish are ignored.
//
// A Span belongs to the request that started it and must not be shared with
// other requests.
type Span struct {
	mu sync.Mutex

	otel          trace.Span
	manager       *SpanManager
	operationName string
	parentSpanID  trace.SpanID
	tags          map[string]interface{}
	events        []SpanEvent
	startTime     time.Time
	endTime       time.Time
	errorFlag     bool
	finished      bool
}

// TraceID returns the trace identifier shared by every span of the trace
func (s *Span) TraceID() trace.TraceID {
	return s.otel.SpanContext().TraceID()
}

// SpanID returns the span identifier
func (s *Span) SpanID() trace.SpanID {
	return s.otel.SpanContext().SpanID()
}

// ParentSpanID returns the parent span identifier and whether the span has a parent
func (s *Span) ParentSpanID() (trace.SpanID, bool) {
	return s.parentSpanID, s.parentSpanID.IsValid()
}

// OperationName returns the name given at creation
func (s *Span) OperationName() string {
	return s.operationName
}

// SpanContext returns the OpenTelemetry span context, used for propagation
func (s *Span) SpanContext() trace.SpanContext {
	return s.otel.SpanContext()
}

// SetTag adds or overwrites a tag. Ignored once the span is finished.
func (s *Span) SetTag(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.tags[key] = value
	s.otel.SetAttributes(toAttribute(key, value))
}

// LogEvent attaches a point-in-time annotation. Ignored once the span is finished.
func (s *Span) LogEvent(fields map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}

	copied := make(map[string]interface{}, len(fields))
	attrs := make([]attribute.KeyValue, 0, len(fields))
	name := "log"
	for k, v := range fields {
		copied[k] = v
		attrs = append(attrs, toAttribute(k, v))
		if k == "event" {
			name = fmt.Sprint(v)
		}
	}
	now := time.Now()
	s.events = append(s.events, SpanEvent{Timestamp: now, Fields: copied})
	s.otel.AddEvent(name, trace.WithTimestamp(now), trace.WithAttributes(attrs...))
}

// SetError marks the span as errored. The flag is set at most once.
func (s *Span) SetError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.errorFlag {
		return
	}
	s.errorFlag = true
	s.tags["error"] = true
	s.otel.SetAttributes(attribute.Bool("error", true))
	s.otel.SetStatus(codes.Error, "")
}

// Finish ends the span. Only the first call has an effect: later calls are
// no-ops and leave the end time unchanged.
func (s *Span) Finish() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.endTime = time.Now()
	end := s.endTime
	s.mu.Unlock()

	s.otel.End(trace.WithTimestamp(end))
	if s.manager != nil {
		s.manager.finished.Add(1)
	}
}

// Finished reports whether Finish has been called
func (s *Span) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// IsError reports whether the span has been marked as errored
func (s *Span) IsError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorFlag
}

// Tag returns a tag value
func (s *Span) Tag(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.tags[key]
	return v, ok
}

// Tags returns a copy of the span tags
func (s *Span) Tags() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	return out
}

// Events returns a copy of the span events
func (s *Span) Events() []SpanEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SpanEvent(nil), s.events...)
}

// StartTime returns when the span was started
func (s *Span) StartTime() time.Time {
	return s.startTime
}

// EndTime returns when the span was finished, or the zero time
func (s *Span) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime
}

// Duration returns the span duration, or the time elapsed so far if the span is live
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		return time.Since(s.startTime)
	}
	return s.endTime.Sub(s.startTime)
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

// SpanManager creates spans on an OpenTelemetry tracer provider. Identifiers
// are generated by the SDK whether or not the span is sampled or exported.
type SpanManager struct {
	tracer   trace.Tracer
	started  atomic.Int64
	finished atomic.Int64
}

// NewSpanManager creates a span manager on the given provider. A nil provider
// yields an SDK provider without exporters, which still allocates ids.
func NewSpanManager(provider trace.TracerProvider) *SpanManager {
	if provider == nil {
		provider = sdktrace.NewTracerProvider()
	}
	return &SpanManager{
		tracer: provider.Tracer("github.com/platinummonkey/catalog"),
	}
}

// StartSpan starts a span. With a parent context the span joins the parent's
// trace; otherwise it is the root of a fresh trace.
func (m *SpanManager) StartSpan(name string, parent *ParentContext) *Span {
	if parent == nil || !parent.SpanContext.IsValid() {
		return m.start(context.Background(), name, trace.SpanID{}, trace.WithNewRoot())
	}
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent.SpanContext)
	return m.start(ctx, name, parent.SpanContext.SpanID())
}

// StartChild starts a span under an in-process parent span. A nil parent
// starts a root span.
func (m *SpanManager) StartChild(parent *Span, name string) *Span {
	if parent == nil {
		return m.StartSpan(name, nil)
	}
	ctx := trace.ContextWithSpan(context.Background(), parent.otel)
	return m.start(ctx, name, parent.SpanID())
}

func (m *SpanManager) start(ctx context.Context, name string, parentID trace.SpanID, opts ...trace.SpanStartOption) *Span {
	now := time.Now()
	opts = append(opts, trace.WithTimestamp(now))

	_, otelSpan := m.tracer.Start(ctx, name, opts...)
	m.started.Add(1)

	return &Span{
		otel:          otelSpan,
		manager:       m,
		operationName: name,
		parentSpanID:  parentID,
		tags:          make(map[string]interface{}),
		startTime:     now,
	}
}

// SpanStats counts spans started and finished through a manager
type SpanStats struct {
	Started  int64
	Finished int64
}

// Stats returns the number of spans started and finished so far
func (m *SpanManager) Stats() SpanStats {
	return SpanStats{
		Started:  m.started.Load(),
		Finished: m.finished.Load(),
	}
}

// ContextWithSpan returns a copy of ctx carrying span. The span is also
// installed as the OpenTelemetry active span so instrumented libraries nest
// under it.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	ctx = context.WithValue(ctx, spanKey, span)
	return trace.ContextWithSpan(ctx, span.otel)
}

// SpanFromContext returns the span stored in ctx, or nil
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	if span, ok := ctx.Value(spanKey).(*Span); ok {
		return span
	}
	return nil
}
