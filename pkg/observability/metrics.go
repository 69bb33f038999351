package observability

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metric names recorded by the service
const (
	MetricDatabaseQueries     = "database_queries_total"
	MetricConnectionPool      = "database_connection_pool"
	MetricHTTPRequests        = "http_requests_total"
	MetricHTTPRequestDuration = "http_request_duration_seconds"
	MetricCacheRequests       = "cache_requests_total"
)

// Labels is a fixed set of label pairs identifying one sample of a metric
type Labels map[string]string

// MetricKind distinguishes samples in a snapshot
type MetricKind string

const (
	KindCounter   MetricKind = "counter"
	KindGauge     MetricKind = "gauge"
	KindHistogram MetricKind = "histogram"
)

// MetricSample is one point-in-time value of a metric and label set. For
// histograms Value is the observation count.
type MetricSample struct {
	Name   string
	Kind   MetricKind
	Labels Labels
	Value  float64
}

// Registry holds the process-wide counters, gauges and histograms. Each
// sample is a Prometheus collector child, so concurrent updates of the same
// sample are atomic and reads never observe a partial write.
type Registry struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string

	mirror *otelMirror
}

// NewRegistry creates a registry with the service's metrics declared
func NewRegistry() *Registry {
	r := &Registry{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelNames: make(map[string][]string),
	}

	r.mustDeclareCounter(MetricDatabaseQueries, "Total number of SQL queries", "operation", "table")
	r.mustDeclareGauge(MetricConnectionPool, "PostgreSQL connection pool state", "status")
	r.mustDeclareCounter(MetricHTTPRequests, "Total number of HTTP requests", "method", "path", "status")
	r.mustDeclareHistogram(MetricHTTPRequestDuration, "HTTP request duration in seconds", prometheus.DefBuckets, "method", "path")
	r.mustDeclareCounter(MetricCacheRequests, "Product cache lookups", "tier", "result")

	return r
}

// Gatherer exposes the underlying Prometheus registry
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the text exposition of every registered metric
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) mustDeclareCounter(name, help string, labels ...string) {
	if _, err := r.DeclareCounter(name, help, labels...); err != nil {
		panic(err)
	}
}

func (r *Registry) mustDeclareGauge(name, help string, labels ...string) {
	if _, err := r.DeclareGauge(name, help, labels...); err != nil {
		panic(err)
	}
}

func (r *Registry) mustDeclareHistogram(name, help string, buckets []float64, labels ...string) {
	if _, err := r.DeclareHistogram(name, help, buckets, labels...); err != nil {
		panic(err)
	}
}

// DeclareCounter registers a counter vector with fixed label names
func (r *Registry) DeclareCounter(name, help string, labels ...string) (*prometheus.CounterVec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.declareCounterLocked(name, help, labels)
}

func (r *Registry) declareCounterLocked(name, help string, labels []string) (*prometheus.CounterVec, error) {
	if vec, ok := r.counters[name]; ok {
		return vec, nil
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	if err := r.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register counter %s: %w", name, err)
	}
	r.counters[name] = vec
	r.labelNames[name] = labels
	return vec, nil
}

// DeclareGauge registers a gauge vector with fixed label names
func (r *Registry) DeclareGauge(name, help string, labels ...string) (*prometheus.GaugeVec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.declareGaugeLocked(name, help, labels)
}

func (r *Registry) declareGaugeLocked(name, help string, labels []string) (*prometheus.GaugeVec, error) {
	if vec, ok := r.gauges[name]; ok {
		return vec, nil
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	if err := r.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register gauge %s: %w", name, err)
	}
	r.gauges[name] = vec
	r.labelNames[name] = labels
	return vec, nil
}

// DeclareHistogram registers a histogram vector with fixed label names
func (r *Registry) DeclareHistogram(name, help string, buckets []float64, labels ...string) (*prometheus.HistogramVec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[name]; ok {
		return vec, nil
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	if err := r.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register histogram %s: %w", name, err)
	}
	r.histograms[name] = vec
	r.labelNames[name] = labels
	return vec, nil
}

// IncrementCounter adds one to the counter sample identified by name and
// labels. Unknown counters are created on first use with the label names of
// that first call; the sample starts at zero.
func (r *Registry) IncrementCounter(name string, labels Labels) error {
	r.mu.Lock()
	vec, ok := r.counters[name]
	if !ok {
		var err error
		vec, err = r.declareCounterLocked(name, name, labelKeys(labels))
		if err != nil {
			r.mu.Unlock()
			return err
		}
	}
	mirror := r.mirror
	r.mu.Unlock()

	counter, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("counter %s: %w", name, err)
	}
	counter.Inc()

	if mirror != nil {
		mirror.add(name, labels)
	}
	return nil
}

// SetGauge overwrites the gauge sample identified by name and labels
func (r *Registry) SetGauge(name string, labels Labels, value float64) error {
	r.mu.Lock()
	vec, ok := r.gauges[name]
	if !ok {
		var err error
		vec, err = r.declareGaugeLocked(name, name, labelKeys(labels))
		if err != nil {
			r.mu.Unlock()
			return err
		}
	}
	mirror := r.mirror
	r.mu.Unlock()

	gauge, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("gauge %s: %w", name, err)
	}
	gauge.Set(value)

	if mirror != nil {
		mirror.record(name, labels, value)
	}
	return nil
}

// ObserveHistogram records one observation on a declared histogram
func (r *Registry) ObserveHistogram(name string, labels Labels, value float64) error {
	r.mu.Lock()
	vec, ok := r.histograms[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("histogram %s is not declared", name)
	}

	observer, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("histogram %s: %w", name, err)
	}
	observer.Observe(value)
	return nil
}

// Snapshot reads every sample currently held by the registry. Updates racing
// with the snapshot may or may not be reflected.
func (r *Registry) Snapshot() ([]MetricSample, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var samples []MetricSample
	for _, family := range families {
		for _, m := range family.GetMetric() {
			sample := MetricSample{
				Name:   family.GetName(),
				Labels: make(Labels, len(m.GetLabel())),
			}
			for _, lp := range m.GetLabel() {
				sample.Labels[lp.GetName()] = lp.GetValue()
			}
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				sample.Kind = KindCounter
				sample.Value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				sample.Kind = KindGauge
				sample.Value = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				sample.Kind = KindHistogram
				sample.Value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			samples = append(samples, sample)
		}
	}
	return samples, nil
}

// Value returns the current value of one counter or gauge sample
func (r *Registry) Value(name string, labels Labels) (float64, bool) {
	samples, err := r.Snapshot()
	if err != nil {
		return 0, false
	}
	for _, s := range samples {
		if s.Name == name && sameLabels(s.Labels, labels) {
			return s.Value, true
		}
	}
	return 0, false
}

func labelKeys(labels Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sameLabels(a, b Labels) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
