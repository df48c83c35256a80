package telemetry

import (
	"context"
	"fmt"

	"collab-sync/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

/*
LEARNING: TRACING THE COLLABORATION PATH

Spans worth looking at in Jaeger:
  GET /ws/documents/{id}      handshake + upgrade
  Session.HandleMessage       one span per inbound frame (sync/steps/pull)
  Bridge.Save                 the debounced snapshot write
  Archive.AppendBatch         step history write

Traces are exported only when TRACING_ENABLED is set; otherwise the global
no-op provider keeps the span helpers free.
*/

// InitJaeger installs a Jaeger-backed tracer provider as the global provider.
// The returned function flushes and stops it.
func InitJaeger(serviceName, jaegerEndpoint string) (func(context.Context) error, error) {
	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	// Not merged with resource.Default(): the sdk's default schema URL lags
	// the semconv package and Merge rejects differing schema URLs.
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion("1.0.0"),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25))),
	)
	otel.SetTracerProvider(tp)

	logger.L().Info("jaeger tracing initialized", "endpoint", jaegerEndpoint)

	return tp.Shutdown, nil
}
