// Package tracing configures the OpenTelemetry tracer provider with an
// OTLP gRPC exporter. When no collector endpoint is configured the provider
// still runs so spans stay cheap no-ops with real contexts.
package tracing

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls the exporter target and the service identity reported
// on every span.
type Config struct {
	Endpoint    string
	ServiceName string
}

// InitTracer builds the global tracer provider and returns it with a
// tracer for the service. Callers must Shutdown the provider on exit.
func InitTracer(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, trace.Tracer, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "finbot"
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Endpoint != "" {
		exporterCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		exporter, err := otlptracegrpc.New(exporterCtx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	} else {
		log.Println("OTLP endpoint not set, tracing spans will not be exported")
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, tp.Tracer(cfg.ServiceName), nil
}
