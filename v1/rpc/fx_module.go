package rpc

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/rpcbridge/v1/metrics"
	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
	"github.com/Aleph-Alpha/rpcbridge/v1/tracer"
)

// ClientModule provides a *Client and a *Dispatcher on top of it.
var ClientModule = fx.Module("rpc-client",
	fx.Provide(
		NewClientWithDI,
		func(c *Client) *Dispatcher { return NewDispatcher(c, c.Config().Workers) },
	),
)

// ServerModule provides a *Server for the injected Handler and runs it for
// the lifetime of the application.
var ServerModule = fx.Module("rpc-server",
	fx.Provide(NewServerWithDI),
	fx.Invoke(RegisterServerLifecycle),
)

// Deps are the optional collaborators shared by clients and servers.
type Deps struct {
	fx.In

	Logger         Logger                 `optional:"true"`
	Events         tasklog.Observer       `optional:"true"`
	Operations     observability.Observer `optional:"true"`
	Sink           *metrics.Sink          `optional:"true"`
	Handling       *metrics.Sink          `name:"handling" optional:"true"`
	Propagator     *tracer.Propagator     `optional:"true"`
	TracerProvider trace.TracerProvider   `optional:"true"`
	Replies        ReplyCache             `optional:"true"`
}

func (d Deps) options() []Option {
	opts := []Option{
		WithLogger(d.Logger),
		WithEventObserver(d.Events),
		WithPropagator(d.Propagator),
		WithTracerProvider(d.TracerProvider),
	}
	if d.Operations != nil {
		opts = append(opts, WithOperationObserver(d.Operations))
	}
	if d.Sink != nil {
		opts = append(opts, WithSink(d.Sink))
	}
	if d.Handling != nil {
		opts = append(opts, WithHandlingRecorder(d.Handling))
	}
	if d.Replies != nil {
		opts = append(opts, WithReplyCache(d.Replies))
	}
	return opts
}

// ClientParams are the dependencies of NewClientWithDI.
type ClientParams struct {
	fx.In

	Opener rabbit.ChannelOpener
	Config ClientConfig
	Deps   Deps
}

// NewClientWithDI builds a client from injected dependencies.
func NewClientWithDI(p ClientParams) *Client {
	return NewClient(p.Opener, p.Config, p.Deps.options()...)
}

// ServerParams are the dependencies of NewServerWithDI.
type ServerParams struct {
	fx.In

	Opener  rabbit.ChannelOpener
	Config  ServerConfig
	Handler Handler
	Deps    Deps
}

// NewServerWithDI builds a server from injected dependencies.
func NewServerWithDI(p ServerParams) *Server {
	return NewServer(p.Opener, p.Config, p.Handler, p.Deps.options()...)
}

// RegisterServerLifecycle runs the server in the background on start and
// waits for in-flight requests on stop.
func RegisterServerLifecycle(lc fx.Lifecycle, s *Server) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.opts.logger.ErrorWithContext(ctx, "receiver stopped", err, nil)
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
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
