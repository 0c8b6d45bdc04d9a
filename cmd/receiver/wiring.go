package main

import (
	"context"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/rpcbridge/internal/config"
	"github.com/Aleph-Alpha/rpcbridge/v1/kafka"
	"github.com/Aleph-Alpha/rpcbridge/v1/logger"
	"github.com/Aleph-Alpha/rpcbridge/v1/metrics"
	"github.com/Aleph-Alpha/rpcbridge/v1/postgres"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/rpc"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog/store"
)

type observerParams struct {
	fx.In

	Config *config.Config
	Logger *logger.Logger
	Store  *store.Repository    `optional:"true"`
	Kafka  *kafka.EventObserver `optional:"true"`
}

// newLifecycleObserver fans receiver events out to every configured sink.
func newLifecycleObserver(p observerParams) tasklog.Observer {
	observers := tasklog.Multi{tasklog.NewLogObserver(p.Logger)}
	if p.Config.TaskLog.URL != "" {
		observers = append(observers, tasklog.NewHTTPObserver(p.Config.TaskLog.URL, p.Config.TaskLog.Timeout))
	}
	if p.Store != nil {
		observers = append(observers, p.Store)
	}
	if p.Kafka != nil {
		observers = append(observers, p.Kafka)
	}
	return observers
}

func newTaskStore(lc fx.Lifecycle, db postgres.Client, log *logger.Logger) *store.Repository {
	repo := store.NewRepository(db)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := repo.Migrate(); err != nil {
				log.Warn("task log migration failed", err, nil)
			}
			return nil
		},
	})
	return repo
}

func registerQueueStats(m *metrics.Metrics, opener rabbit.ChannelOpener, cfg rpc.ServerConfig) {
	topo := rabbit.NewTopology(cfg.Queue)
	m.SetQueueStats(func(ctx context.Context) any {
		return rabbit.Depths(ctx, opener, topo.WorkQueue, topo.DeadLetterQueue)
	})
}
