// Package tracing wires the process's OpenTelemetry tracer provider:
// an OTLP/HTTP exporter feeding a batch span processor, following the
// SPEC_FULL.md DOMAIN STACK commitment to OpenTelemetry. Tracing stays out
// of the core port interfaces and is confined to an optional UseTracer
// setter (dispatcher, worker, HTTP gateway), mirroring the UseMetrics(*metrics.Pipeline) shape already used
// there.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config parameterizes the exporter. Endpoint empty disables tracing
// entirely and Init returns a no-op tracer.
type Config struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
}

// Init builds a tracer provider exporting to Config.Endpoint and installs
// it as the global provider. The returned shutdown func flushes pending
// spans and must be called on process exit. When Endpoint is empty, Init
// returns the global no-op tracer and a no-op shutdown.
func Init(ctx context.Context, cfg Config) (trace.Tracer, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return otel.Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Tracer(cfg.ServiceName), provider.Shutdown, nil
}
