package rpc_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit/rabbittest"
	"github.com/Aleph-Alpha/rpcbridge/v1/rpc"
)

type countingCaller struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	release  chan struct{}
}

func (c *countingCaller) Call(ctx context.Context, queue string, payload []byte, _ time.Duration) (*rpc.Reply, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-c.release
	return &rpc.Reply{Body: payload}, nil
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	caller := &countingCaller{release: make(chan struct{})}
	d := rpc.NewDispatcher(caller, 2)

	var results []<-chan rpc.CallOutcome
	for i := 0; i < 6; i++ {
		results = append(results, d.Go(context.Background(), "q", []byte(`{}`), time.Second))
	}
	waitFor(t, func() bool { return caller.inFlight.Load() == 2 })
	close(caller.release)
	d.Wait()

	for _, r := range results {
		out := <-r
		require.NoError(t, out.Err)
		assert.JSONEq(t, `{}`, string(out.Payload()))
	}
	assert.Equal(t, int32(2), caller.peak.Load())
}

func TestDispatcherCancelledBeforeStart(t *testing.T) {
	caller := &countingCaller{release: make(chan struct{})}
	d := rpc.NewDispatcher(caller, 1)

	busy := d.Go(context.Background(), "q", []byte(`{}`), time.Second)
	waitFor(t, func() bool { return caller.inFlight.Load() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	queued := d.Go(ctx, "q", []byte(`{}`), time.Second)
	cancel()

	out := <-queued
	require.ErrorIs(t, out.Err, rpc.ErrTransport)
	assert.Contains(t, string(out.Payload()), "RabbitMQ call failed: ")

	close(caller.release)
	<-busy
	d.Wait()
}

func TestDispatcherAgainstServer(t *testing.T) {
	b := rabbittest.NewBroker()
	startServer(t, b, rpc.ServerConfig{Queue: "work", Consumers: 2}, echo)
	client, sink := newClient(b)
	d := rpc.NewDispatcher(client, 4)

	a := d.Go(context.Background(), "work", []byte(`"a"`), time.Second)
	ghost := d.Go(context.Background(), "ghost_queue", []byte(`"b"`), 50*time.Millisecond)

	assert.JSONEq(t, `"a"`, string((<-a).Payload()))
	assert.JSONEq(t, `{"error":"Request timeout"}`, string((<-ghost).Payload()))
	d.Wait()
	assert.Equal(t, uint64(1), sink.Snapshot().TimeoutsTotal)
}
