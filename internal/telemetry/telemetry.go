package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Global tracer for the application
	Tracer trace.Tracer

	// Global meter for custom metrics
	Meter metric.Meter

	// Custom metrics
	TasksSubmitted  metric.Int64Counter
	TasksActive     metric.Int64UpDownCounter
	FlowIterations  metric.Int64Counter
	DispatchLatency metric.Float64Histogram
	FlowDuration    metric.Float64Histogram
)

// InitTelemetry initializes OpenTelemetry tracing and metrics
func InitTelemetry(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
			attribute.String("environment", "development"),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = otel.Tracer(serviceName)
	Meter = otel.Meter(serviceName)

	if err := initMetrics(); err != nil {
		return nil, err
	}

	log.Printf("[Telemetry] Initialized with endpoint %s", otelEndpoint)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

// initMetrics creates all custom metrics
func initMetrics() error {
	var err error

	TasksSubmitted, err = Meter.Int64Counter(
		"spindle.tasks.submitted",
		metric.WithDescription("Number of tasks accepted by the queue"),
	)
	if err != nil {
		return err
	}

	TasksActive, err = Meter.Int64UpDownCounter(
		"spindle.tasks.active",
		metric.WithDescription("Number of tasks currently executing"),
	)
	if err != nil {
		return err
	}

	FlowIterations, err = Meter.Int64Counter(
		"spindle.flow.iterations",
		metric.WithDescription("Number of flow loop iterations (review attempts, repair cycles, campaign rounds)"),
	)
	if err != nil {
		return err
	}

	DispatchLatency, err = Meter.Float64Histogram(
		"spindle.dispatch.latency",
		metric.WithDescription("Queue admission to flow start latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	FlowDuration, err = Meter.Float64Histogram(
		"spindle.flow.duration",
		metric.WithDescription("Flow execution time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}
