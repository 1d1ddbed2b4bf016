package cmd

import (
	"context"
	"log/slog"

	"github.com/99scratch/WALKOFF/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns an OTLP exporting tracer when enabled and a no-op tracer
// otherwise. The returned shutdown flushes pending spans.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, logger *slog.Logger, serviceName string, enabled bool) (trace.Tracer, otelhelper.ShutdownFunc) {
	noopShutdown := func(context.Context) error { return nil }

	if !enabled {
		return otelhelper.NoopTracer(), noopShutdown
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.Warn("Tracing disabled, failed to create exporter", "error", err)

		return otelhelper.NoopTracer(), noopShutdown
	}

	return tracer, shutdown
}
