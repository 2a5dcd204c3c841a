package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope name registered with the
// global OpenTelemetry TracerProvider.
const TracerName = "github.com/teal-agents/agentcore"

// Tracer returns the package-scoped tracer. Callers configure the
// global TracerProvider (e.g. via go.opentelemetry.io/otel/sdk/trace)
// at process startup; this package never constructs one itself so
// that cmd/agentcored stays in control of exporters and sampling.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartTurnSpan starts a span around one orchestrator turn.
func StartTurnSpan(ctx context.Context, taskID, requestID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.String("request_id", requestID),
	))
}

// StartToolCallSpan starts a span around one tool invocation.
func StartToolCallSpan(ctx context.Context, catalogID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("catalog_id", catalogID),
	))
}

// StartMcpRoundTripSpan starts a span around one MCP request/response
// exchange with a given server.
func StartMcpRoundTripSpan(ctx context.Context, server, method string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mcp.round_trip", trace.WithAttributes(
		attribute.String("server", server),
		attribute.String("method", method),
	))
}

// RecordError marks span as errored, following the pattern used
// throughout otel-instrumented Go services.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
