package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// otelMirror records registry updates on OpenTelemetry instruments so the
// same counters and gauges are pushed over OTLP.
type otelMirror struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	gauges   map[string]metric.Float64Gauge
	onError  func(error)
}

// MirrorTo makes every later counter increment and gauge update also record
// on instruments created from meter. Instrument errors are passed to onError.
func (r *Registry) MirrorTo(meter metric.Meter, onError func(error)) {
	if onError == nil {
		onError = func(error) {}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = &otelMirror{
		meter:    meter,
		counters: make(map[string]metric.Int64Counter),
		gauges:   make(map[string]metric.Float64Gauge),
		onError:  onError,
	}
}

func (m *otelMirror) add(name string, labels Labels) {
	m.mu.Lock()
	counter, ok := m.counters[name]
	if !ok {
		var err error
		counter, err = m.meter.Int64Counter(name, metric.WithUnit("1"))
		if err != nil {
			m.mu.Unlock()
			m.onError(fmt.Errorf("failed to create %s counter: %w", name, err))
			return
		}
		m.counters[name] = counter
	}
	m.mu.Unlock()

	counter.Add(context.Background(), 1, metric.WithAttributes(toAttributes(labels)...))
}

func (m *otelMirror) record(name string, labels Labels, value float64) {
	m.mu.Lock()
	gauge, ok := m.gauges[name]
	if !ok {
		var err error
		gauge, err = m.meter.Float64Gauge(name)
		if err != nil {
			m.mu.Unlock()
			m.onError(fmt.Errorf("failed to create %s gauge: %w", name, err))
			return
		}
		m.gauges[name] = gauge
	}
	m.mu.Unlock()

	gauge.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

func toAttributes(labels Labels) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for _, k := range labelKeys(labels) {
		attrs = append(attrs, attribute.String(k, labels[k]))
	}
	return attrs
}
