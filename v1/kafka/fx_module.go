package kafka

import (
	"context"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// FXModule provides *KafkaClient and an *EventObserver on top of it.
var FXModule = fx.Module("kafka",
	fx.Provide(
		NewClientWithDI,
		func(k *KafkaClient) *EventObserver { return NewEventObserver(k) },
	),
	fx.Invoke(RegisterKafkaLifecycle),
)

// KafkaParams are the dependencies of NewClientWithDI.
type KafkaParams struct {
	fx.In

	Config   Config
	Logger   Logger                 `optional:"true"`
	Observer observability.Observer `optional:"true"`
}

// NewClientWithDI creates a client from injected dependencies.
func NewClientWithDI(p KafkaParams) (*KafkaClient, error) {
	client, err := NewClient(p.Config, p.Logger)
	if err != nil {
		return nil, err
	}
	if p.Observer != nil {
		client.WithObserver(p.Observer)
	}
	return client, nil
}

// RegisterKafkaLifecycle flushes and closes the writer on stop.
func RegisterKafkaLifecycle(lc fx.Lifecycle, client *KafkaClient) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.GracefulShutdown()
		},
	})
}
