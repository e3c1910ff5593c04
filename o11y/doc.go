// Package o11y provides observability primitives used across the relay:
// OpenTelemetry-based tracing and metrics, structured logging via slog, and
// health checks.
//
// # Tracing
//
// [StartSpan] creates spans with typed attributes, and [InitTracer]
// configures the global OTel tracer provider:
//
//	shutdown, err := o11y.InitTracer("voicerelay",
//	    o11y.WithSpanExporter(exporter),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer shutdown()
//
//	ctx, span := o11y.StartSpan(ctx, "upstream.dial", o11y.Attrs{
//	    "voicerelay.tenant_id": tenantID,
//	    "voicerelay.agent_id":  agentID,
//	})
//	defer span.End()
//
// The [Span] interface wraps OTel spans with a simplified API for setting
// attributes, recording errors, and setting status codes.
//
// # Metrics
//
// Pre-registered instruments track relayed audio bytes, turn duration, and
// session errors:
//
//	o11y.AudioBytes(ctx, received, sent)
//	o11y.TurnDuration(ctx, durationMs)
//
// [InitMeter] configures the package-level meter with a service name.
// Generic [Counter] and [Histogram] functions allow recording custom metrics.
//
// # Logging
//
// [Logger] wraps slog.Logger with context-aware convenience methods and
// functional options for configuration:
//
//	logger := o11y.NewLogger(
//	    o11y.WithLogLevel("debug"),
//	    o11y.WithJSON(),
//	)
//	logger.Info(ctx, "session ready",
//	    "session_id", sessionID,
//	    "tenant_id", tenantID,
//	)
//
// Loggers propagate through context via [WithLogger] and [FromContext].
//
// # Health Checks
//
// The [HealthChecker] interface provides health probes for components.
// [HealthRegistry] aggregates named checkers and runs them concurrently
// via [HealthRegistry.CheckAll]:
//
//	registry := o11y.NewHealthRegistry()
//	registry.Register("supervisor", supervisorChecker)
//	registry.Register("persistence", persistenceChecker)
//	results := registry.CheckAll(ctx)
//
// [HealthCheckerFunc] adapts plain functions to the HealthChecker interface.
package o11y
