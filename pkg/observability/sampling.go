package observability

import (
	"fmt"
	"strings"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Sampler types, named after the Jaeger client sampler configuration
const (
	SamplerConst         = "const"
	SamplerProbabilistic = "probabilistic"
	SamplerRateLimiting  = "ratelimiting"
)

// SamplerConfig configures trace sampling behavior
type SamplerConfig struct {
	// Type is one of const, probabilistic or ratelimiting
	Type string

	// Param is interpreted per type:
	//   const: 1 samples everything, 0 nothing
	//   probabilistic: sampling ratio in [0, 1]
	//   ratelimiting: maximum traces per second
	Param float64
}

// NewSampler creates a parent-based sampler. Requests that arrive with a
// sampled parent stay sampled; root decisions follow the configured type.
func NewSampler(cfg SamplerConfig) (sdktrace.Sampler, error) {
	var root sdktrace.Sampler

	switch strings.ToLower(cfg.Type) {
	case "", SamplerConst:
		if cfg.Param >= 1 {
			root = sdktrace.AlwaysSample()
		} else {
			root = sdktrace.NeverSample()
		}
	case SamplerProbabilistic:
		root = sdktrace.TraceIDRatioBased(cfg.Param)
	case SamplerRateLimiting:
		if cfg.Param <= 0 {
			root = sdktrace.NeverSample()
		} else {
			root = newRateLimitingSampler(cfg.Param)
		}
	default:
		return nil, fmt.Errorf("unknown sampler type %q", cfg.Type)
	}

	return sdktrace.ParentBased(root), nil
}

// rateLimitingSampler samples at most a fixed number of root traces per second
type rateLimitingSampler struct {
	limiter     *rate.Limiter
	description string
}

func newRateLimitingSampler(perSecond float64) *rateLimitingSampler {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &rateLimitingSampler{
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		description: fmt.Sprintf("RateLimitingSampler{%g}", perSecond),
	}
}

// ShouldSample implements the Sampler interface
func (s *rateLimitingSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	decision := sdktrace.Drop
	if s.limiter.Allow() {
		decision = sdktrace.RecordAndSample
	}
	return sdktrace.SamplingResult{
		Decision:   decision,
		Tracestate: trace.SpanContextFromContext(params.ParentContext).TraceState(),
	}
}

// Description implements the Sampler interface
func (s *rateLimitingSampler) Description() string {
	return s.description
}
