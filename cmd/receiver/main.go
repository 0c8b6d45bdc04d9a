// Command receiver consumes one work queue, runs the data service on each
// request and replies to the caller. Configuration comes from the file named
// by RPCBRIDGE_CONFIG and the environment.
package main

import (
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/Aleph-Alpha/rpcbridge/internal/config"
	"github.com/Aleph-Alpha/rpcbridge/internal/dataservice"
	"github.com/Aleph-Alpha/rpcbridge/v1/kafka"
	"github.com/Aleph-Alpha/rpcbridge/v1/logger"
	"github.com/Aleph-Alpha/rpcbridge/v1/metrics"
	"github.com/Aleph-Alpha/rpcbridge/v1/postgres"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/redis"
	"github.com/Aleph-Alpha/rpcbridge/v1/rpc"
	"github.com/Aleph-Alpha/rpcbridge/v1/tracer"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fx.New(options(cfg)...).Run()
}

func options(cfg *config.Config) []fx.Option {
	opts := []fx.Option{
		fx.Supply(cfg),
		config.FXModule,
		logger.FXModule,
		fx.WithLogger(func(l *logger.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Zap}
		}),
		provideLoggerAs(
			new(rabbit.Logger),
			new(rpc.Logger),
			new(metrics.Logger),
			new(tracer.Logger),
			new(postgres.Logger),
			new(kafka.Logger),
			new(redis.Logger),
			new(dataservice.Logger),
		),
		tracer.FXModule,
		metrics.FXModule,
		rabbit.FXModule,
		fx.Provide(
			fx.Annotate(dataservice.New, fx.As(new(rpc.Handler))),
			newLifecycleObserver,
		),
		rpc.ServerModule,
		fx.Invoke(registerQueueStats),
	}

	if cfg.Postgres.Enabled() && cfg.TaskLog.Persist {
		opts = append(opts,
			postgres.FXModule,
			fx.Provide(newTaskStore),
		)
	}
	if cfg.Kafka.Enabled() {
		opts = append(opts, kafka.FXModule)
	}
	if cfg.Redis.Enabled() {
		opts = append(opts,
			redis.FXModule,
			fx.Provide(fx.Annotate(
				func(c *redis.ReplyCache) *redis.ReplyCache { return c },
				fx.As(new(rpc.ReplyCache)),
			)),
		)
	}
	return opts
}

// provideLoggerAs exposes *logger.Logger as each of the given interfaces.
// fx.As maps its arguments onto constructor results by position, so every
// interface needs its own annotated constructor.
func provideLoggerAs(ifaces ...any) fx.Option {
	ctors := make([]any, 0, len(ifaces))
	for _, iface := range ifaces {
		ctors = append(ctors, fx.Annotate(
			func(l *logger.Logger) *logger.Logger { return l },
			fx.As(iface),
		))
	}
	return fx.Provide(ctors...)
}
