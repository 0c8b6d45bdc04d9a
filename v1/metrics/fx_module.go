package metrics

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// Logger is what the lifecycle hooks log through.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// FXModule provides *Metrics, its *Sink, the handling window as a *Sink
// named "handling" and the Metrics as an observability.Observer. The HTTP
// server runs with the app.
var FXModule = fx.Module("metrics",
	fx.Provide(
		NewMetrics,
		func(m *Metrics) *Sink { return m.Sink },
		fx.Annotate(
			func(m *Metrics) *Sink { return m.Handling },
			fx.ResultTags(`name:"handling"`),
		),
		fx.Annotate(
			func(m *Metrics) *Metrics { return m },
			fx.As(new(observability.Observer)),
		),
	),
	fx.Invoke(RegisterMetricsLifecycle),
)

// RegisterMetricsLifecycle starts the server on start and shuts it down on stop.
func RegisterMetricsLifecycle(lc fx.Lifecycle, m *Metrics, log Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("starting metrics server", nil, map[string]interface{}{"address": m.Server.Addr})
				if err := m.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server stopped", err, nil)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down metrics server", nil)
			return m.Server.Shutdown(ctx)
		},
	})
}
