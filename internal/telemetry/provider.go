// Package telemetry exports the dispatch loop's spans over OTLP/HTTP.
package telemetry

import (
	"context"
	"strings"

	"example.com/clueless_bridge/internal/config"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// ServiceName is the resource name spans are exported under.
const ServiceName = "clueless-bridge"

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

// Setup registers a global tracer provider when cfg enables tracing and
// returns its Shutdown. Otherwise nothing is registered and Shutdown is a
// no-op. Exporter failures after startup are logged, not returned.
func Setup(ctx context.Context, cfg config.Config, logger *zap.Logger) (Shutdown, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.TracingEnabled() {
		return noop, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(strings.TrimSpace(cfg.OTelEndpoint)),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("trace export failed", zap.Error(err))
	}))
	logger.Info("tracing enabled", zap.String("endpoint", cfg.OTelEndpoint))

	return tp.Shutdown, nil
}

// resourceAttributes tags every span with the settings that shape a game, so
// traces from forced and dirty bridges can be told apart.
func resourceAttributes(cfg config.Config) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceName(ServiceName),
		semconv.ServiceInstanceID(uuid.NewString()),
		attribute.String("bridge.transport", cfg.Transport),
		attribute.String("bridge.update_mode", cfg.UpdateMode),
		attribute.Int("bridge.quorum", cfg.Quorum),
	}
}
