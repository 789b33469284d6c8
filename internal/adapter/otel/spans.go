package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gowa-manager"

// StartLifecycleSpan starts a span for one instance lifecycle operation
// (start, stop, kill, restart).
func StartLifecycleSpan(ctx context.Context, op string, instanceID int64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "instance."+op,
		trace.WithAttributes(
			attribute.Int64("instance.id", instanceID),
		),
	)
}

// StartInstallSpan starts a span for a version install.
func StartInstallSpan(ctx context.Context, version string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "version.install",
		trace.WithAttributes(
			attribute.String("version.tag", version),
		),
	)
}
