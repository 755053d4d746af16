package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/CodeMonkeyCybersecurity/satori/internal/config"
	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

type telemetry struct {
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider

	runCounter     metric.Int64Counter
	runDuration    metric.Float64Histogram
	pluginCounter  metric.Int64Counter
	pluginDuration metric.Float64Histogram
}

func New(ctx context.Context, cfg config.TelemetryConfig) (core.Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "satori"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch cfg.ExporterType {
	case "otlp", "":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	meter := otel.Meter(serviceName)
	t := &telemetry{meter: meter, tracerProvider: tp}

	if t.runCounter, err = meter.Int64Counter("satori.runs.total",
		metric.WithDescription("Total number of discovery runs"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if t.runDuration, err = meter.Float64Histogram("satori.run.duration",
		metric.WithDescription("Discovery run duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if t.pluginCounter, err = meter.Int64Counter("satori.plugin.calls.total",
		metric.WithDescription("Total number of plugin invocations"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if t.pluginDuration, err = meter.Float64Histogram("satori.plugin.duration",
		metric.WithDescription("Plugin invocation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *telemetry) RecordRun(duration time.Duration, outcome string) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("run.outcome", outcome))

	t.runCounter.Add(ctx, 1, attrs)
	t.runDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *telemetry) RecordPlugin(plugin string, phase types.Phase, duration time.Duration, outcome string) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("plugin.name", plugin),
		attribute.String("plugin.phase", string(phase)),
		attribute.String("plugin.outcome", outcome),
	)

	t.pluginCounter.Add(ctx, 1, attrs)
	t.pluginDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *telemetry) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

type noopTelemetry struct{}

// NewNoop returns a Telemetry that records nothing.
func NewNoop() core.Telemetry { return &noopTelemetry{} }

func (n *noopTelemetry) RecordRun(time.Duration, string)                           {}
func (n *noopTelemetry) RecordPlugin(string, types.Phase, time.Duration, string) {}
func (n *noopTelemetry) Close() error                                              { return nil }
