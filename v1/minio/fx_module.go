package minio

import (
	"context"
	"sync"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// FXModule provides *MinioClient and runs its health monitor.
var FXModule = fx.Module("minio",
	fx.Provide(NewMinioClientWithDI),
	fx.Invoke(RegisterLifecycle),
)

// MinioParams are the dependencies of NewMinioClientWithDI.
type MinioParams struct {
	fx.In

	Config   Config
	Logger   Logger                 `optional:"true"`
	Observer observability.Observer `optional:"true"`
}

// NewMinioClientWithDI creates a client from injected dependencies.
func NewMinioClientWithDI(p MinioParams) (*MinioClient, error) {
	return NewClient(p.Config, WithLogger(p.Logger), WithObserver(p.Observer))
}

// RegisterLifecycle starts the monitor and reconnect loops and stops them
// with the application.
func RegisterLifecycle(lc fx.Lifecycle, m *MinioClient) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(2)
			go func() {
				defer wg.Done()
				m.monitorConnection(ctx)
			}()
			go func() {
				defer wg.Done()
				m.retryConnection(ctx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			m.GracefulShutdown()
			wg.Wait()
			return nil
		},
	})
}
