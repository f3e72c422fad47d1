// Package telemetry provides logging, tracing, metrics and events for polsync.
//
// # Logging
//
// Logging is built on zerolog. Library code pulls its logger from the context
// and gets a no-op logger when the caller did not install one:
//
//	logger := telemetry.FromContext(ctx).WithResource("address", "web")
//	logger.Debug("probing remote")
//
// # Tracing
//
// Tracing uses OpenTelemetry with a stdout or OTLP gRPC exporter. Spans are
// opened per batch run, per reconciliation and per remote API call.
//
// # Metrics
//
// Prometheus metrics are kept in a private registry and exposed over HTTP when
// a listen address is configured:
//
//   - polsync_reconciles_total{resource_type,operation,outcome}
//   - polsync_reconcile_duration_seconds{resource_type,operation}
//   - polsync_client_calls_total{resource_type,call}
//   - polsync_client_errors_total{resource_type,call,code}
//   - polsync_errors_by_class_total{class}
//   - polsync_policy_violations_total{policy,severity}
//   - polsync_runs_started_total, polsync_runs_completed_total{status}
//
// # Events
//
// EventPublisher delivers run and resource lifecycle events to subscribers,
// which the CLI logs as they happen in watch mode.
package telemetry
