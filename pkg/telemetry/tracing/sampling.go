package tracing

import (
	"fmt"
	"strings"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Sampler strategies accepted in telemetry.tracing.sampler.
const (
	SamplerAlways = "always"
	SamplerNever  = "never"
	SamplerRatio  = "ratio"
)

// controlPlanePrefixes name the spans of policy reloads and reconciliation
// passes. There are a few per reload, against one acquire span per fetch.
var controlPlanePrefixes = []string{"policy.", "limits.Reconcile"}

// createSampler builds the sampler for a strategy. Acquire traffic follows
// the strategy and respects the parent decision. Control plane spans are
// recorded under every strategy except never, even inside an unsampled
// request, so a reload can always be traced.
func createSampler(strategy string, ratio float64) (sdktrace.Sampler, error) {
	var base sdktrace.Sampler
	switch strategy {
	case SamplerAlways:
		base = sdktrace.AlwaysSample()
	case SamplerNever:
		return sdktrace.NeverSample(), nil
	case SamplerRatio:
		if ratio < 0 || ratio > 1 {
			return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
		}
		base = sdktrace.TraceIDRatioBased(ratio)
	default:
		return nil, fmt.Errorf("unknown sampler strategy: %s (valid: always, never, ratio)", strategy)
	}
	return controlPlaneSampler{traffic: sdktrace.ParentBased(base)}, nil
}

type controlPlaneSampler struct {
	traffic sdktrace.Sampler
}

func (s controlPlaneSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if isControlPlane(p.Name) {
		return sdktrace.SamplingResult{
			Decision:   sdktrace.RecordAndSample,
			Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
	}
	return s.traffic.ShouldSample(p)
}

func (s controlPlaneSampler) Description() string {
	return "ControlPlane{" + s.traffic.Description() + "}"
}

func isControlPlane(name string) bool {
	for _, p := range controlPlanePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
