package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig controls the OTLP trace exporter. An empty Endpoint
// yields a no-op tracer so call sites never branch.
type TracingConfig struct {
	Endpoint    string
	ServiceName string
	SampleRatio float64
	Insecure    bool
}

// Tracer wraps the configured trace provider with its shutdown hook.
type Tracer struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewTracer sets up an OTLP gRPC exporter when an endpoint is
// configured, otherwise a no-op tracer.
func NewTracer(ctx context.Context, cfg TracingConfig, logger *slog.Logger) (*Tracer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		return &Tracer{
			tracer:   noop.NewTracerProvider().Tracer("relay"),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "relay"
	}
	if cfg.SampleRatio <= 0 || cfg.SampleRatio > 1 {
		cfg.SampleRatio = 1
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(provider)
	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)

	return &Tracer{
		tracer:   provider.Tracer("relay"),
		shutdown: provider.Shutdown,
	}, nil
}

// Start opens a span. Callers must End it.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}
