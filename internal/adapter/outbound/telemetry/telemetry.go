// Package telemetry installs the global OpenTelemetry tracer and meter
// providers. Both export to a writer (stdout by default), which is enough to
// follow tool calls locally without a collector.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName is reported as the service.name resource attribute.
const ServiceName = "aigate"

// Config selects which providers are installed.
type Config struct {
	Tracing        bool
	Metrics        bool
	MetricInterval time.Duration
	Version        string
	// Writer receives exported spans and metrics. Defaults to os.Stdout.
	Writer io.Writer
}

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(context.Context) error

// Setup installs the configured providers globally. With both signals
// disabled it installs nothing and returns a no-op shutdown.
func Setup(cfg Config) (ShutdownFunc, error) {
	var shutdowns []ShutdownFunc
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}
	if !cfg.Tracing && !cfg.Metrics {
		return shutdown, nil
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", cfg.Version),
	)

	if cfg.Tracing {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	if cfg.Metrics {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			_ = shutdown(context.Background())
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		interval := cfg.MetricInterval
		if interval <= 0 {
			interval = time.Minute
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}
	return shutdown, nil
}
