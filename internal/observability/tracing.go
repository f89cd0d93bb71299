package observability

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type TracingConfig struct {
	ServiceName  string
	OTLPEndpoint string
	OTLPInsecure bool
	Stdout       bool
}

// SetupTracing installs the global tracer provider. With neither an OTLP
// endpoint nor stdout export configured it leaves the no-op provider in
// place. The returned function flushes and stops the exporter.
func SetupTracing(ctx context.Context, cfg TracingConfig, logger *zap.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch endpoint := strings.TrimSpace(cfg.OTLPEndpoint); {
	case endpoint != "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return noop, err
		}
		logger.Info("tracing initialized", zap.String("exporter", "otlp"), zap.String("endpoint", endpoint))
	case cfg.Stdout:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return noop, err
		}
		logger.Info("tracing initialized", zap.String("exporter", "stdout"))
	default:
		return noop, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return noop, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
