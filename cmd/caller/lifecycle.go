package main

import (
	"fmt"

	"github.com/Aleph-Alpha/rpcbridge/internal/config"
	"github.com/Aleph-Alpha/rpcbridge/v1/kafka"
	"github.com/Aleph-Alpha/rpcbridge/v1/logger"
	"github.com/Aleph-Alpha/rpcbridge/v1/metrics"
	"github.com/Aleph-Alpha/rpcbridge/v1/postgres"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/rpc"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog/store"
	"github.com/Aleph-Alpha/rpcbridge/v1/tracer"
)

// lifecycle is the set of observers call events fan out to, plus the
// clients backing them.
type lifecycle struct {
	observers tasklog.Multi
	closers   []func()
}

// newLifecycle mirrors the receiver: debug log always, then the remote
// logger, the task_logs table and the Kafka stream when configured.
func newLifecycle(cfg *config.Config, log *logger.Logger) (*lifecycle, error) {
	lc := &lifecycle{observers: tasklog.Multi{tasklog.NewLogObserver(log)}}

	if cfg.TaskLog.URL != "" {
		lc.observers = append(lc.observers, tasklog.NewHTTPObserver(cfg.TaskLog.URL, cfg.TaskLog.Timeout))
	}

	if cfg.TaskLog.Persist && cfg.Postgres.Enabled() {
		db, err := postgres.NewPostgres(cfg.Postgres, postgres.WithLogger(log))
		if err != nil {
			lc.close()
			return nil, fmt.Errorf("connect task log store: %w", err)
		}
		lc.closers = append(lc.closers, func() { _ = db.GracefulShutdown() })

		repo := store.NewRepository(db)
		if err := repo.Migrate(); err != nil {
			log.Warn("task log migration failed", err, nil)
		}
		lc.observers = append(lc.observers, repo)
	}

	if cfg.Kafka.Enabled() {
		producer, err := kafka.NewClient(cfg.Kafka, log)
		if err != nil {
			lc.close()
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		lc.closers = append(lc.closers, func() { _ = producer.GracefulShutdown() })
		lc.observers = append(lc.observers, kafka.NewEventObserver(producer))
	}

	return lc, nil
}

func (lc *lifecycle) close() {
	for i := len(lc.closers) - 1; i >= 0; i-- {
		lc.closers[i]()
	}
	lc.closers = nil
}

func newRPCClient(opener rabbit.ChannelOpener, cfg rpc.ClientConfig, log *logger.Logger,
	sink *metrics.Sink, events tasklog.Observer, trc *tracer.Tracer) *rpc.Client {
	return rpc.NewClient(opener, cfg,
		rpc.WithLogger(log),
		rpc.WithSink(sink),
		rpc.WithEventObserver(events),
		rpc.WithPropagator(trc.Propagator()),
		rpc.WithTracerProvider(trc.Provider()),
	)
}
