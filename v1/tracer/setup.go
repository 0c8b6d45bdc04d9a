package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the logging surface the tracer needs.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// Tracer owns the process-wide TracerProvider and the Propagator used to move
// trace context across the broker.
type Tracer struct {
	provider   *sdktrace.TracerProvider
	propagator *Propagator
	logger     Logger
}

// NewClient builds a TracerProvider, installs it and the W3C propagator as
// the otel globals and returns the wrapping Tracer.
//
// When cfg.EnableExport is false spans are still created and propagated, they
// are just not shipped anywhere. That keeps trace ids flowing into log lines.
func NewClient(cfg Config, logger Logger) (*Tracer, error) {
	var opts []sdktrace.TracerProviderOption

	if cfg.EnableExport {
		var clientOpts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			clientOpts = append(clientOpts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(clientOpts...))
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	opts = append(opts, sdktrace.WithResource(resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.AppEnv),
		attribute.String("environment", cfg.AppEnv),
	)))

	tp := sdktrace.NewTracerProvider(opts...)
	prop := NewPropagator()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(prop.TextMap())

	if logger != nil {
		logger.Info("tracer initialised", nil, map[string]interface{}{
			"service": cfg.ServiceName,
			"export":  cfg.EnableExport,
		})
	}

	return &Tracer{provider: tp, propagator: prop, logger: logger}, nil
}

// Provider exposes the provider for components that start their own spans.
func (t *Tracer) Provider() trace.TracerProvider {
	return t.provider
}

// Propagator returns the broker propagator bound to this tracer.
func (t *Tracer) Propagator() *Propagator {
	return t.propagator
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
