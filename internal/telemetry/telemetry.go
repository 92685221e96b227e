// Package telemetry wires OpenTelemetry traces and metrics for mediator.
//
// Everything is off unless MEDIATOR_OTEL_ENABLED=true, in which case the
// global providers are replaced and spans and metrics go to the exporters
// named below.
//
//	MEDIATOR_OTEL_ENABLED=true                 turn telemetry on
//	MEDIATOR_OTEL_STDOUT=true                  pretty-print to stdout
//	OTEL_EXPORTER_OTLP_ENDPOINT=host:4318      OTLP/HTTP for traces and metrics
//	OTEL_EXPORTER_OTLP_METRICS_ENDPOINT=...    metrics-only override
//	OTEL_SERVICE_NAME=...                      override the service name
//	MEDIATOR_OTEL_METRIC_INTERVAL=30s          metric export interval
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scope = "github.com/aimediator/mediator"

// Settings is the exporter configuration read from the environment.
type Settings struct {
	Enabled         bool          `env:"MEDIATOR_OTEL_ENABLED"`
	Stdout          bool          `env:"MEDIATOR_OTEL_STDOUT"`
	TraceEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsEndpoint string        `env:"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"`
	ServiceName     string        `env:"OTEL_SERVICE_NAME"`
	MetricInterval  time.Duration `env:"MEDIATOR_OTEL_METRIC_INTERVAL" envDefault:"30s"`
}

// LoadSettings parses Settings from environ, or from the process
// environment when environ is nil. The metrics endpoint falls back to the
// shared OTLP endpoint.
func LoadSettings(environ map[string]string) (Settings, error) {
	var s Settings
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return Settings{}, fmt.Errorf("telemetry: parse env: %w", err)
	}
	if s.MetricsEndpoint == "" {
		s.MetricsEndpoint = s.TraceEndpoint
	}
	return s, nil
}

var (
	mu       sync.Mutex
	shutdown []func(context.Context) error
)

// Enabled reports whether MEDIATOR_OTEL_ENABLED is set.
func Enabled() bool {
	s, err := LoadSettings(nil)
	return err == nil && s.Enabled
}

// Init installs the global providers for serviceName. With telemetry
// disabled the providers are no-ops.
func Init(ctx context.Context, serviceName, version string) error {
	s, err := LoadSettings(nil)
	if err != nil {
		return err
	}
	if !s.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	if s.ServiceName != "" {
		serviceName = s.ServiceName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	spans, err := spanExporters(ctx, s)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	readers, err := metricReaders(ctx, s)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	topts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, exp := range spans {
		topts = append(topts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(topts...)

	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mopts = append(mopts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mopts...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	mu.Lock()
	shutdown = append(shutdown, tp.Shutdown, mp.Shutdown)
	mu.Unlock()
	return nil
}

// spanExporters falls back to stdout when nothing else is configured so an
// enabled process always shows its spans somewhere.
func spanExporters(ctx context.Context, s Settings) ([]sdktrace.SpanExporter, error) {
	var out []sdktrace.SpanExporter
	if s.TraceEndpoint != "" {
		exp, err := buildOTLPTraceExporter(ctx, s.TraceEndpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		out = append(out, exp)
	}
	if s.Stdout || len(out) == 0 {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		out = append(out, exp)
	}
	return out, nil
}

func metricReaders(ctx context.Context, s Settings) ([]sdkmetric.Reader, error) {
	var out []sdkmetric.Reader
	if s.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		out = append(out, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(s.MetricInterval)))
	}
	if s.MetricsEndpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, s.MetricsEndpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		out = append(out, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(s.MetricInterval)))
	}
	return out, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = scope
	}
	return otel.Tracer(name)
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	if name == "" {
		name = scope
	}
	return otel.Meter(name)
}

// Shutdown flushes and stops the providers installed by Init.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	fns := shutdown
	shutdown = nil
	mu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
