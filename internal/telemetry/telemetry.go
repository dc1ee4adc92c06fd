// Package telemetry exports the spans and metrics of one batch run over OTLP
// HTTP. Providers are handed to the pipeline explicitly; nothing is installed
// globally.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Scope is the instrumentation scope of the pipeline's tracer and meter.
const Scope = "qabatch/pipeline"

// DefaultExportInterval is how often metrics are pushed during a run.
const DefaultExportInterval = 10 * time.Second

// Options configures Setup.
type Options struct {
	// Endpoint is host:port or a full URL. Empty disables export.
	Endpoint       string
	Insecure       bool
	ServiceName    string
	Version        string
	ExportInterval time.Duration

	// Attributes describe the run, e.g. model and catalog, and are attached
	// to the resource so every span and data point carries them.
	Attributes map[string]string
}

// Providers holds the tracer and meter providers of one run.
type Providers struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	shutdowns []func(context.Context) error
}

// Setup builds the providers. With no endpoint it returns no-op providers,
// so callers never need to branch on whether telemetry is enabled.
func Setup(ctx context.Context, opts Options) (*Providers, error) {
	if opts.Endpoint == "" {
		return &Providers{
			TracerProvider: tracenoop.NewTracerProvider(),
			MeterProvider:  metricnoop.NewMeterProvider(),
		}, nil
	}
	if opts.ExportInterval <= 0 {
		opts.ExportInterval = DefaultExportInterval
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(opts)...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceExp, err := otlptracehttp.New(ctx, traceOptions(opts)...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}
	// A run emits one span per item; keep them all.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)

	metricExp, err := otlpmetrichttp.New(ctx, metricOptions(opts)...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(opts.ExportInterval))),
		sdkmetric.WithResource(res),
	)

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		shutdowns:      []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}

// Tracer returns the pipeline tracer.
func (p *Providers) Tracer() trace.Tracer {
	return p.TracerProvider.Tracer(Scope)
}

// Meter returns the pipeline meter.
func (p *Providers) Meter() metric.Meter {
	return p.MeterProvider.Meter(Scope)
}

// Shutdown flushes pending spans and a final metric collection. It must run
// after the batch ends, otherwise the last items are never exported.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func resourceAttributes(opts Options) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(opts.ServiceName),
		semconv.ServiceVersionKey.String(opts.Version),
	}
	for k, v := range opts.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func hasScheme(endpoint string) bool {
	return strings.Contains(endpoint, "://")
}

func traceOptions(opts Options) []otlptracehttp.Option {
	if hasScheme(opts.Endpoint) {
		return []otlptracehttp.Option{otlptracehttp.WithEndpointURL(strings.TrimRight(opts.Endpoint, "/") + "/v1/traces")}
	}
	out := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		out = append(out, otlptracehttp.WithInsecure())
	}
	return out
}

func metricOptions(opts Options) []otlpmetrichttp.Option {
	if hasScheme(opts.Endpoint) {
		return []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(strings.TrimRight(opts.Endpoint, "/") + "/v1/metrics")}
	}
	out := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		out = append(out, otlpmetrichttp.WithInsecure())
	}
	return out
}
