// Package tracing configures OpenTelemetry for the proxy: a resource, a
// sampler, one or more exporters, and batch span processors.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/jthorne/cacheproxy/internal/config"
)

const (
    batchTimeout  = 5 * time.Second
    batchMaxSize  = 512
    shutdownGrace = 5 * time.Second
)

// InitTracing wires a tracer provider from cfg and installs it as the
// global provider, returning a cleanup func that flushes and shuts it
// down. A disabled config is a no-op returning a no-op cleanup.
func InitTracing(cfg config.TracingConfig) (func(), error) {
    if !cfg.Enabled {
        return func() {}, nil
    }

    res, err := buildResource(cfg)
    if err != nil {
        return nil, err
    }

    exporters, err := buildExporters(cfg)
    if err != nil {
        return nil, err
    }

    tp := trace.NewTracerProvider(
        trace.WithResource(res),
        trace.WithSampler(samplerFor(cfg.SamplingRatio)),
    )
    for _, exp := range exporters {
        tp.RegisterSpanProcessor(trace.NewBatchSpanProcessor(
            exp,
            trace.WithBatchTimeout(batchTimeout),
            trace.WithMaxExportBatchSize(batchMaxSize),
        ))
    }

    otel.SetTracerProvider(tp)
    otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
        propagation.TraceContext{},
        propagation.Baggage{},
    ))

    return func() {
        ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
        defer cancel()
        tp.Shutdown(ctx)
    }, nil
}

func buildResource(cfg config.TracingConfig) (*resource.Resource, error) {
    res, err := resource.Merge(
        resource.Default(),
        resource.NewWithAttributes(
            semconv.SchemaURL,
            semconv.ServiceNameKey.String(cfg.ServiceName),
            semconv.ServiceVersionKey.String(cfg.ServiceVersion),
            semconv.DeploymentEnvironmentKey.String(cfg.Environment),
        ),
    )
    if err != nil {
        return nil, fmt.Errorf("failed to create resource: %w", err)
    }
    return res, nil
}

// buildExporters constructs one exporter per configured endpoint. At
// least one of JaegerEndpoint/OTLPEndpoint must be set; both may be.
func buildExporters(cfg config.TracingConfig) ([]trace.SpanExporter, error) {
    var exporters []trace.SpanExporter

    if cfg.JaegerEndpoint != "" {
        exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
        if err != nil {
            return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
        }
        exporters = append(exporters, exp)
    }

    if cfg.OTLPEndpoint != "" {
        exp, err := otlptracehttp.New(
            context.Background(),
            otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
            otlptracehttp.WithInsecure(),
        )
        if err != nil {
            return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
        }
        exporters = append(exporters, exp)
    }

    if len(exporters) == 0 {
        return nil, fmt.Errorf("no trace exporters configured")
    }
    return exporters, nil
}

// samplerFor maps a ratio to a sampler: non-positive never samples,
// one-or-above always samples, otherwise a parent-based ratio sampler.
func samplerFor(ratio float64) trace.Sampler {
    switch {
    case ratio <= 0:
        return trace.NeverSample()
    case ratio >= 1:
        return trace.AlwaysSample()
    default:
        return trace.ParentBased(trace.TraceIDRatioBased(ratio))
    }
}
