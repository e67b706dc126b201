package obs

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Metrics holds two common resilience instruments, created once by
// InitMetrics. cmd/flowengine discards the returned value, and the executor
// and resilience primitives record through their own instruments instead.
type Metrics struct {
	RetryAttempts          metric.Int64Counter
	CircuitOpenTransitions metric.Int64Counter
}

// InitTracer configures the global tracer provider with an OTLP gRPC
// exporter and returns a shutdown function to flush on exit.
func InitTracer(ctx context.Context, service string) func(context.Context) error {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		slog.Warn("otel tracer exporter init failed", "error", err)
		return func(context.Context) error { return nil }
	}
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("otel tracer initialized", "endpoint", endpoint)
	return tp.Shutdown
}

// InitMetrics configures the global meter provider with a periodic OTLP
// push exporter plus a Prometheus pull bridge, and returns a shutdown
// function, an http.Handler serving /metrics, and the engine's common
// instrument set. The Prometheus handler is non-nil even if the OTLP
// exporter fails to dial, so scrape-based deployments keep working.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, promHandler http.Handler, m Metrics) {
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))

	promReader, err := prometheus.New()
	if err != nil {
		slog.Warn("otel prometheus bridge init failed", "error", err)
	}

	readers := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if promReader != nil {
		readers = append(readers, sdkmetric.WithReader(promReader))
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel metrics exporter init failed", "error", err)
	} else {
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))))
	}

	mp := sdkmetric.NewMeterProvider(readers...)
	otel.SetMeterProvider(mp)
	slog.Info("otel metrics initialized", "otlp_endpoint", endpoint, "prometheus_bridge", promReader != nil)
	return mp.Shutdown, promhttp.Handler(), commonInstruments()
}

func commonInstruments() Metrics {
	meter := otel.Meter("flowengine")
	retry, _ := meter.Int64Counter("flowengine_resilience_retry_attempts_total")
	circuit, _ := meter.Int64Counter("flowengine_resilience_circuit_open_total")
	return Metrics{RetryAttempts: retry, CircuitOpenTransitions: circuit}
}

// WithSpan starts a span named name and returns a context carrying it plus
// an end function.
func WithSpan(ctx context.Context, name string) (context.Context, func()) {
	tr := otel.Tracer("flowengine")
	ctx, span := tr.Start(ctx, name)
	return ctx, func() { span.End() }
}

// Flush shuts down an OTel provider, bounding the wait to 3 seconds.
func Flush(ctx context.Context, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
