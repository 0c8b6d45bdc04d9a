package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aleph-Alpha/rpcbridge/internal/config"
	"github.com/Aleph-Alpha/rpcbridge/v1/kafka"
	"github.com/Aleph-Alpha/rpcbridge/v1/logger"
	"github.com/Aleph-Alpha/rpcbridge/v1/metrics"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit/rabbittest"
	"github.com/Aleph-Alpha/rpcbridge/v1/rpc"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
	"github.com/Aleph-Alpha/rpcbridge/v1/tracer"
)

type postedEvent struct {
	CorrelationID string `json:"correlation_id"`
	QueueName     string `json:"queue_name"`
	ServiceName   string `json:"service_name"`
	TaskType      string `json:"task_type"`
	Description   string `json:"description"`
}

type eventCollector struct {
	mu     sync.Mutex
	events []postedEvent
}

func (c *eventCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var e postedEvent
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (c *eventCollector) snapshot() []postedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]postedEvent(nil), c.events...)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLoggerClient(logger.Config{ServiceName: "caller"})
	require.NoError(t, err)
	return log
}

func TestNewLifecycleObservers(t *testing.T) {
	log := testLogger(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	lc, err := newLifecycle(cfg, log)
	require.NoError(t, err)
	require.Len(t, lc.observers, 1)
	assert.IsType(t, &tasklog.LogObserver{}, lc.observers[0])
	lc.close()

	cfg.TaskLog.URL = "http://logger.invalid/api/logs"
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Topic = "task-events"
	lc, err = newLifecycle(cfg, log)
	require.NoError(t, err)
	defer lc.close()

	require.Len(t, lc.observers, 3)
	assert.IsType(t, &tasklog.HTTPObserver{}, lc.observers[1])
	assert.IsType(t, &kafka.EventObserver{}, lc.observers[2])
	assert.Len(t, lc.closers, 1)
}

func TestCallerReportsLifecycleEvents(t *testing.T) {
	collector := &eventCollector{}
	remote := httptest.NewServer(collector)
	defer remote.Close()

	log := testLogger(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.TaskLog.URL = remote.URL

	b := rabbittest.NewBroker()
	srv := rpc.NewServer(b, rpc.ServerConfig{Queue: "data_queue"},
		rpc.HandlerFunc(func(_ context.Context, body []byte) ([]byte, string, error) {
			return body, "data", nil
		}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not start consuming")
	}

	trc, err := tracer.NewClient(tracer.Config{ServiceName: "caller"}, nil)
	require.NoError(t, err)
	defer func() { _ = trc.Shutdown(context.Background()) }()

	lc, err := newLifecycle(cfg, log)
	require.NoError(t, err)
	defer lc.close()

	client := newRPCClient(b, cfg.Client, log, metrics.NewSink(0), lc.observers, trc)
	reply, err := client.Call(context.Background(), "data_queue", []byte(`{"payload":"hi","task_type":"data"}`), time.Second)
	require.NoError(t, err)

	got := collector.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, tasklog.StatusStart, got[0].TaskType)
	assert.Equal(t, tasklog.StatusEnd, got[1].TaskType)
	for _, e := range got {
		assert.Equal(t, reply.CorrelationID, e.CorrelationID)
		assert.Equal(t, "data_queue", e.QueueName)
		assert.Equal(t, cfg.Client.ServiceName, e.ServiceName)
	}
}
