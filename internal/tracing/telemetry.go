// Package tracing wires OpenTelemetry tracing for the bus daemon: its
// HTTP health/metrics surface, and — via Observer — the bus's own
// deliver/ack/nack/promote lifecycle (Put itself is not traced).
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds telemetry configuration, populated from
// internal/config.TracingConfig.
type Config struct {
	Enabled        bool
	Exporter       string // otlp-http, stdout
	Endpoint       string // e.g. localhost:4318
	ServiceName    string // e.g. taskbusd
	ServiceVersion string // e.g. 0.1.0; blank becomes "dev"
	SampleRate     float64
}

// Provider wraps the OpenTelemetry TracerProvider.
type Provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var globalProvider = &Provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}

// Init initializes the global telemetry provider. A disabled config
// installs a no-op tracer so every StartSpan/StartServerSpan call
// remains safe to make unconditionally; callers still check Enabled
// before doing the work of building span attributes.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		globalProvider = &Provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}
		return nil
	}

	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	globalProvider = &Provider{
		tp:      tp,
		tracer:  tp.Tracer(cfg.ServiceName),
		enabled: true,
	}

	return nil
}

// newExporter builds the span exporter named by cfg.Exporter. "stdout"
// and "none" both map to a discarding exporter: taskbusd has no
// human-readable trace printer of its own, and wiring one up only to
// throw it away in tests isn't worth the dependency, so a local request
// for either is satisfied the same way disabled tracing is.
func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp-http", "otlp":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
		return exp, nil
	case "stdout", "none":
		return &discardExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}
}

func samplerFor(rate float64) sdktrace.Sampler {
	if rate >= 1.0 || rate < 0 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Shutdown gracefully shuts down the telemetry provider, flushing any
// spans still buffered in the batcher.
func Shutdown(ctx context.Context) error {
	if globalProvider.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return globalProvider.tp.Shutdown(ctx)
}

// Tracer returns the global tracer. Guard calls with Enabled() first —
// before Init runs, and whenever tracing is configured off, the tracer
// is the no-op implementation rather than nil.
func Tracer() trace.Tracer {
	return globalProvider.tracer
}

// Enabled reports whether a real (non-no-op) tracer is installed.
func Enabled() bool {
	return globalProvider.enabled
}

type discardExporter struct{}

func (e *discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return nil
}

func (e *discardExporter) Shutdown(context.Context) error {
	return nil
}
