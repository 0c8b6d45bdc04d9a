package redis

import (
	"context"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// FXModule provides *RedisClient and a *ReplyCache on top of it. The
// connection is checked on start and closed on stop.
var FXModule = fx.Module("redis",
	fx.Provide(
		NewClientWithDI,
		NewReplyCache,
	),
	fx.Invoke(RegisterRedisLifecycle),
)

// RedisParams groups the dependencies of NewClientWithDI.
type RedisParams struct {
	fx.In

	Config   Config
	Logger   Logger                 `optional:"true"`
	Observer observability.Observer `optional:"true"`
}

// NewClientWithDI creates a client from injected dependencies.
func NewClientWithDI(p RedisParams) (*RedisClient, error) {
	client, err := NewClient(p.Config)
	if err != nil {
		return nil, err
	}
	if p.Logger != nil {
		client.WithLogger(p.Logger)
	}
	if p.Observer != nil {
		client.WithObserver(p.Observer)
	}
	return client, nil
}

// RegisterRedisLifecycle pings on start, logging instead of failing so the
// receiver still serves without its cache, and closes on stop.
func RegisterRedisLifecycle(lc fx.Lifecycle, client *RedisClient) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx); err != nil && client.logger != nil {
				client.logger.Warn("redis not reachable, reply cache lookups will fail", err, nil)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
}
