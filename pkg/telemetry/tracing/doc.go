// Package tracing sets up OpenTelemetry tracing for packlimit.
//
// # Overview
//
// New installs a global tracer provider that batches spans to an OTLP gRPC
// collector. Packages such as limits and policy/manager obtain their tracer
// with otel.Tracer, so they export through it once New has run and produce
// noop spans otherwise.
//
// Spans are recorded for policy reloads, reconciliation passes and HTTP
// acquire requests.
//
// # Sampling Strategies
//
//   - always: sample every trace
//   - never: sample none
//   - ratio: sample a fraction of traces by trace id
//
// Acquire spans respect the parent span's decision. Policy reload and
// reconciliation spans are recorded under always and ratio regardless of the
// ratio or the parent.
//
// # Usage
//
//	tracer, err := tracing.New(cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
package tracing
