package postgres

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// FXModule provides *Postgres, exposes it as Client and runs the health
// monitor and reconnect loops with the application.
var FXModule = fx.Module("postgres",
	fx.Provide(
		NewPostgresClientWithDI,
		fx.Annotate(
			func(pg *Postgres) *Postgres { return pg },
			fx.As(new(Client)),
		),
	),
	fx.Invoke(RegisterPostgresLifecycle),
)

// PostgresParams groups the dependencies of NewPostgresClientWithDI.
type PostgresParams struct {
	fx.In

	Config   Config
	Logger   Logger                 `optional:"true"`
	Observer observability.Observer `optional:"true"`
}

// NewPostgresClientWithDI creates a client from injected dependencies.
func NewPostgresClientWithDI(params PostgresParams) (*Postgres, error) {
	opts := []Option{WithLogger(params.Logger)}
	if params.Observer != nil {
		opts = append(opts, WithObserver(params.Observer))
	}
	return NewPostgres(params.Config, opts...)
}

// RegisterPostgresLifecycle starts MonitorConnection and RetryConnection on
// start; on stop it ends both and closes the pool.
func RegisterPostgresLifecycle(lc fx.Lifecycle, pg *Postgres) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(2)
			go func() {
				defer wg.Done()
				pg.MonitorConnection(ctx, 10*time.Second)
			}()
			go func() {
				defer wg.Done()
				pg.RetryConnection(ctx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			wg.Wait()
			return pg.GracefulShutdown()
		},
	})
}
