package config

import (
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/rpcbridge/v1/kafka"
	"github.com/Aleph-Alpha/rpcbridge/v1/logger"
	"github.com/Aleph-Alpha/rpcbridge/v1/metrics"
	"github.com/Aleph-Alpha/rpcbridge/v1/minio"
	"github.com/Aleph-Alpha/rpcbridge/v1/postgres"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/redis"
	"github.com/Aleph-Alpha/rpcbridge/v1/rpc"
	"github.com/Aleph-Alpha/rpcbridge/v1/tracer"
)

// FXModule splits a supplied *Config into the per-package configs the
// other modules depend on.
//
//	cfg, err := config.LoadFromEnv()
//	app := fx.New(fx.Supply(cfg), config.FXModule, logger.FXModule, ...)
var FXModule = fx.Module("config",
	fx.Provide(
		func(c *Config) logger.Config { return c.Logger },
		func(c *Config) tracer.Config { return c.Tracer },
		func(c *Config) metrics.Config { return c.Metrics },
		func(c *Config) rabbit.Config { return c.Rabbit },
		func(c *Config) rpc.ClientConfig { return c.Client },
		func(c *Config) rpc.ServerConfig { return c.Server },
		func(c *Config) postgres.Config { return c.Postgres },
		func(c *Config) kafka.Config { return c.Kafka },
		func(c *Config) minio.Config { return c.Minio },
		func(c *Config) redis.Config { return c.Redis },
	),
)
