// Package metrics provides the Prometheus registry and HTTP instrumentation.
//
// Engine metrics (acquisitions, events, evictions, reconciliation and
// reloads) are defined by the limits package and registered into the
// registry returned by NewRegistry. This package adds the runtime collectors,
// per-route HTTP metrics and the /metrics handler. All names carry the
// packlimit_ prefix.
package metrics
