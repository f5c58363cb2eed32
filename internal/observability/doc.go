// Package observability provides structured logging, metrics, and tracing
// for the tenant governance control plane.
//
// This package implements:
//   - zap logger construction from configuration
//   - Prometheus collectors on a per-process registry
//   - OpenTelemetry tracer provider setup with an optional OTLP exporter
package observability
