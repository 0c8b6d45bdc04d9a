package rpc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aleph-Alpha/rpcbridge/v1/metrics"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit/rabbittest"
	"github.com/Aleph-Alpha/rpcbridge/v1/rpc"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
)

type eventLog struct {
	mu     sync.Mutex
	events []tasklog.Event
}

func (l *eventLog) OnEvent(_ context.Context, e tasklog.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) forService(service string) []tasklog.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []tasklog.Event
	for _, e := range l.events {
		if e.ServiceName == service {
			out = append(out, e)
		}
	}
	return out
}

// startServer runs a server on b until the test ends.
func startServer(t *testing.T, b *rabbittest.Broker, cfg rpc.ServerConfig, h rpc.Handler, opts ...rpc.Option) *rpc.Server {
	t.Helper()
	srv := rpc.NewServer(b, cfg, h, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start consuming")
	}
	return srv
}

func newClient(b *rabbittest.Broker, opts ...rpc.Option) (*rpc.Client, *metrics.Sink) {
	sink := metrics.NewSink(0)
	opts = append([]rpc.Option{rpc.WithSink(sink)}, opts...)
	return rpc.NewClient(b, rpc.ClientConfig{PollInterval: 20 * time.Millisecond}, opts...), sink
}

var echo = rpc.HandlerFunc(func(_ context.Context, body []byte) ([]byte, string, error) {
	return body, "echo", nil
})

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}
