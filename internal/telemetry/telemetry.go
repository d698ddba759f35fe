// Package telemetry wires OpenTelemetry for sync runs.
//
// Telemetry is off by default and then costs nothing beyond no-op calls.
//
//	CONTENTMIRROR_OTEL_ENABLED=true   install SDK providers
//	CONTENTMIRROR_OTEL_STDOUT=false   keep the providers but drop the stdout exporters
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/agentworkforce/contentmirror"

var shutdownFns []func(context.Context) error

func Enabled() bool {
	return os.Getenv("CONTENTMIRROR_OTEL_ENABLED") == "true"
}

// Init installs global providers. Disabled telemetry installs no-op ones.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}
	stdout := os.Getenv("CONTENTMIRROR_OTEL_STDOUT") != "false"

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("telemetry: trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("telemetry: metric exporter: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second)),
		))
	}
	mp := sdkmetric.NewMeterProvider(metricOpts...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes and stops the providers installed by Init.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}

// RunMetrics are the counters a sync run reports.
type RunMetrics struct {
	Runs     metric.Int64Counter
	Written  metric.Int64Counter
	Removed  metric.Int64Counter
	Slugs    metric.Int64Counter
	Duration metric.Float64Histogram
}

// NewRunMetrics registers the run instruments on m. A nil meter uses the
// global provider.
func NewRunMetrics(m metric.Meter) *RunMetrics {
	if m == nil {
		m = Meter("")
	}
	runs, _ := m.Int64Counter("contentmirror.runs",
		metric.WithDescription("Sync runs by outcome"),
	)
	written, _ := m.Int64Counter("contentmirror.documents.written",
		metric.WithDescription("Documents written, translations included"),
	)
	removed, _ := m.Int64Counter("contentmirror.entries.removed",
		metric.WithDescription("Orphaned record directories removed"),
	)
	slugs, _ := m.Int64Counter("contentmirror.slugs.backfilled",
		metric.WithDescription("Slugs derived and written upstream"),
	)
	dur, _ := m.Float64Histogram("contentmirror.run.duration",
		metric.WithDescription("Sync run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &RunMetrics{Runs: runs, Written: written, Removed: removed, Slugs: slugs, Duration: dur}
}

// CollectionAttr tags a measurement with its collection.
func CollectionAttr(collection string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("collection", collection))
}

func OutcomeAttr(outcome string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}
