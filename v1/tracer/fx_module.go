package tracer

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// FXModule provides *Tracer, its TracerProvider and its *Propagator, and
// flushes spans on shutdown.
var FXModule = fx.Module("tracer",
	fx.Provide(
		NewClient,
		func(t *Tracer) trace.TracerProvider { return t.Provider() },
		func(t *Tracer) *Propagator { return t.Propagator() },
	),
	fx.Invoke(RegisterTracerLifecycle),
)

// RegisterTracerLifecycle shuts the provider down when the app stops.
func RegisterTracerLifecycle(lc fx.Lifecycle, t *Tracer) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if t.logger != nil {
				t.logger.Info("shutting down tracer", nil)
			}
			return t.Shutdown(ctx)
		},
	})
}
