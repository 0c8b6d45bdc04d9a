package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

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

func TestOptionsGraph(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Postgres.Connection.Host = "db"
	cfg.TaskLog.Persist = true
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Topic = "task-events"
	cfg.Redis.Host = "cache"

	require.NoError(t, fx.ValidateApp(options(cfg)...))
}

func TestOptionsGraphMinimal(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	require.NoError(t, fx.ValidateApp(options(cfg)...))
}

func TestOptionsResolveEveryLogger(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	opts := append(options(cfg), fx.Invoke(func(
		rabbit.Logger, rpc.Logger, metrics.Logger, tracer.Logger,
		postgres.Logger, kafka.Logger, redis.Logger, dataservice.Logger,
	) {
	}))
	require.NoError(t, fx.ValidateApp(opts...))
}

func TestProvideLoggerAs(t *testing.T) {
	log, err := logger.NewLoggerClient(logger.Config{ServiceName: "receiver"})
	require.NoError(t, err)

	var (
		rabbitLog rabbit.Logger
		rpcLog    rpc.Logger
		metricLog metrics.Logger
		traceLog  tracer.Logger
	)
	app := fxtest.New(t,
		fx.Supply(log),
		provideLoggerAs(
			new(rabbit.Logger),
			new(rpc.Logger),
			new(metrics.Logger),
			new(tracer.Logger),
		),
		fx.Populate(&rabbitLog, &rpcLog, &metricLog, &traceLog),
	)
	app.RequireStart()
	defer app.RequireStop()

	assert.Same(t, log, rabbitLog)
	assert.Same(t, log, rpcLog)
	assert.Same(t, log, metricLog)
	assert.Same(t, log, traceLog)
}

func TestOptionsProvideHandlingWindow(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	opts := append(options(cfg), fx.Invoke(fx.Annotate(
		func(*metrics.Sink) {},
		fx.ParamTags(`name:"handling"`),
	)))
	require.NoError(t, fx.ValidateApp(opts...))
}
