package rabbit

import (
	"context"
	"sync"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// FXModule provides *RabbitClient and exposes it as a ChannelOpener. The
// reconnect loop runs for the lifetime of the application.
var FXModule = fx.Module("rabbit",
	fx.Provide(
		NewClientWithDI,
		func(r *RabbitClient) ChannelOpener { return r },
	),
	fx.Invoke(RegisterRabbitLifecycle),
)

// RabbitParams are the dependencies of NewClientWithDI.
type RabbitParams struct {
	fx.In

	Config   Config
	Logger   Logger                 `optional:"true"`
	Observer observability.Observer `optional:"true"`
}

// NewClientWithDI builds a client from injected dependencies.
func NewClientWithDI(p RabbitParams) (*RabbitClient, error) {
	var opts []Option
	if p.Logger != nil {
		opts = append(opts, WithLogger(p.Logger))
	}
	if p.Observer != nil {
		opts = append(opts, WithObserver(p.Observer))
	}
	return NewClient(p.Config, opts...)
}

// RegisterRabbitLifecycle starts RetryConnection on start and closes the
// connection on stop, waiting for the loop to exit.
func RegisterRabbitLifecycle(lc fx.Lifecycle, client *RabbitClient) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				client.RetryConnection(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			client.GracefulShutdown()

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
