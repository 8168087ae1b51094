package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/irfndi/regimebot/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the tracer name used across the bot.
const InstrumentationName = "github.com/irfndi/regimebot"

// Provider holds the tracer provider and its shutdown hook.
type Provider struct {
	tracerProvider trace.TracerProvider
	shutdown       func(context.Context) error
}

// InitTelemetry builds a tracer provider from config. When telemetry is
// disabled it returns a no-op provider so callers never branch.
func InitTelemetry(ctx context.Context, cfg config.TelemetryConfig, environment string) (*Provider, error) {
	return initTelemetry(ctx, cfg, environment, os.Stdout)
}

func initTelemetry(ctx context.Context, cfg config.TelemetryConfig, environment string, stdout io.Writer) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			tracerProvider: noop.NewTracerProvider(),
			shutdown:       func(context.Context) error { return nil },
		}, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch strings.ToLower(cfg.Exporter) {
	case "otlp":
		endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.OTLPEndpoint, "http://"), "https://")
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "stdout", "":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(stdout))
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tracerProvider: tp, shutdown: tp.Shutdown}, nil
}

// NewProvider wraps an existing tracer provider; tests pass an SDK provider
// with a span recorder.
func NewProvider(tp trace.TracerProvider) *Provider {
	return &Provider{tracerProvider: tp, shutdown: func(context.Context) error { return nil }}
}

// Tracer returns the bot's tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracerProvider.Tracer(InstrumentationName)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
