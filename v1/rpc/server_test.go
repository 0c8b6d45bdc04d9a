package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aleph-Alpha/rpcbridge/v1/metrics"
	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit/rabbittest"
	"github.com/Aleph-Alpha/rpcbridge/v1/rpc"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
	"github.com/Aleph-Alpha/rpcbridge/v1/tracer"
)

func TestServerDeclaresDeadLetterTopology(t *testing.T) {
	b := rabbittest.NewBroker()
	startServer(t, b, rpc.ServerConfig{Queue: "orders"}, echo)

	kind, durable, ok := b.Exchange("orders_dlx")
	require.True(t, ok)
	assert.Equal(t, amqp.ExchangeDirect, kind)
	assert.True(t, durable)

	dlq, ok := b.Queue("orders_dlq")
	require.True(t, ok)
	assert.True(t, dlq.Durable)

	work, ok := b.Queue("orders")
	require.True(t, ok)
	assert.True(t, work.Durable)
	assert.Equal(t, "orders_dlx", work.Args[rabbit.ArgDeadLetterExchange])
	assert.Equal(t, "orders_dlq", work.Args[rabbit.ArgDeadLetterRoutingKey])
	assert.Equal(t, 1, work.Consumers)
}

func TestServerDeadLettersFailedRequests(t *testing.T) {
	cases := map[string]rpc.Handler{
		"error": rpc.HandlerFunc(func(context.Context, []byte) ([]byte, string, error) {
			return nil, "", errors.New("cannot process")
		}),
		"panic": rpc.HandlerFunc(func(context.Context, []byte) ([]byte, string, error) {
			panic("index out of range")
		}),
		"malformed response": rpc.HandlerFunc(func(context.Context, []byte) ([]byte, string, error) {
			return []byte("not json"), "", nil
		}),
		"outcome": handlerOutcome(rpc.Failf("bad input %d", 7)),
	}

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			b := rabbittest.NewBroker()
			events := &eventLog{}
			startServer(t, b, rpc.ServerConfig{Queue: "work", ServiceName: "svc"}, h, rpc.WithEventObserver(events))
			client, _ := newClient(b)

			reply, err := client.Call(context.Background(), "work", []byte(`{"payload":1}`), time.Second)
			require.ErrorIs(t, err, rpc.ErrRemote)

			var env rpc.ErrorEnvelope
			require.NoError(t, json.Unmarshal(reply.Body, &env))
			assert.Equal(t, "Receiver exception", env.Error)
			assert.NotEmpty(t, env.Exception)

			waitFor(t, func() bool {
				q, _ := b.Queue("work_dlq")
				return q.Ready == 1
			})
			work, _ := b.Queue("work")
			assert.Zero(t, work.Ready)
			assert.Zero(t, work.Unacked)

			dead := b.Messages("work_dlq")
			require.Len(t, dead, 1)
			assert.JSONEq(t, `{"payload":1}`, string(dead[0].Body))
			assert.Equal(t, reply.CorrelationID, dead[0].CorrelationId)

			waitFor(t, func() bool { return len(events.forService("svc")) == 2 })
			end := events.forService("svc")[1]
			assert.Equal(t, tasklog.StatusEnd, end.Status)
			assert.Contains(t, end.Description, "Receiver exception: ")
		})
	}
}

type handlerOutcome rpc.Outcome

func (o handlerOutcome) Handle(context.Context, []byte) rpc.Outcome { return rpc.Outcome(o) }

func TestServerWithoutReplyToStillAcks(t *testing.T) {
	b := rabbittest.NewBroker()
	handled := make(chan struct{}, 1)
	h := rpc.HandlerFunc(func(_ context.Context, body []byte) ([]byte, string, error) {
		handled <- struct{}{}
		return body, "", nil
	})
	startServer(t, b, rpc.ServerConfig{Queue: "work"}, h)

	require.NoError(t, b.Publish("", "work", amqp.Publishing{CorrelationId: "c1", Body: []byte(`{}`)}))
	<-handled

	waitFor(t, func() bool {
		q, _ := b.Queue("work")
		return q.Ready == 0 && q.Unacked == 0
	})
	dlq, _ := b.Queue("work_dlq")
	assert.Zero(t, dlq.Ready)
}

func TestServerFillsUnknownCorrelationID(t *testing.T) {
	b := rabbittest.NewBroker()
	failing := rpc.HandlerFunc(func(context.Context, []byte) ([]byte, string, error) {
		return nil, "", errors.New("nope")
	})
	startServer(t, b, rpc.ServerConfig{Queue: "work"}, failing)

	ch, err := b.OpenChannel()
	require.NoError(t, err)
	defer ch.Close()
	_, err = ch.QueueDeclare("answers", false, false, false, false, nil)
	require.NoError(t, err)

	require.NoError(t, b.Publish("", "work", amqp.Publishing{ReplyTo: "answers", Body: []byte(`{}`)}))

	var d amqp.Delivery
	waitFor(t, func() bool {
		var ok bool
		d, ok, _ = ch.Get("answers", true)
		return ok
	})
	var env rpc.ErrorEnvelope
	require.NoError(t, json.Unmarshal(d.Body, &env))
	assert.Equal(t, rpc.UnknownCorrelationID, env.CorrelationID)
	assert.Equal(t, rpc.UnknownCorrelationID, d.CorrelationId)
}

func TestServerProcessesOneMessageAtATime(t *testing.T) {
	b := rabbittest.NewBroker()
	release := make(chan struct{})
	started := make(chan struct{}, 3)
	h := rpc.HandlerFunc(func(_ context.Context, body []byte) ([]byte, string, error) {
		started <- struct{}{}
		<-release
		return body, "", nil
	})
	startServer(t, b, rpc.ServerConfig{Queue: "work"}, h)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish("", "work", amqp.Publishing{Body: []byte(`{}`)}))
	}
	<-started
	time.Sleep(50 * time.Millisecond)

	q, _ := b.Queue("work")
	assert.Equal(t, 1, q.Unacked)
	assert.Equal(t, 2, q.Ready)
	close(release)

	waitFor(t, func() bool {
		q, _ := b.Queue("work")
		return q.Ready == 0 && q.Unacked == 0
	})
}

func TestServerRecoversFromConnectionLoss(t *testing.T) {
	b := rabbittest.NewBroker()
	startServer(t, b, rpc.ServerConfig{Queue: "work", ReconnectDelay: 10 * time.Millisecond}, echo)

	b.Disconnect()
	waitFor(t, func() bool {
		q, _ := b.Queue("work")
		return q.Consumers == 1
	})

	client, _ := newClient(b)
	reply, err := client.Call(context.Background(), "work", []byte(`{"again":true}`), time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"again":true}`, string(reply.Body))
}

func TestServerRetriesWhileBrokerIsDown(t *testing.T) {
	b := rabbittest.NewBroker()
	b.SetOpenError(errors.New("connection refused"))

	srv := rpc.NewServer(b, rpc.ServerConfig{Queue: "work", ReconnectDelay: 5 * time.Millisecond}, echo)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	b.SetOpenError(nil)

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server never started")
	}
}

func TestServeReturnsOnCancel(t *testing.T) {
	b := rabbittest.NewBroker()
	srv := rpc.NewServer(b, rpc.ServerConfig{Queue: "work"}, echo)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	<-srv.Ready()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestTraceContextCrossesTheBroker(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	b := rabbittest.NewBroker()

	startServer(t, b, rpc.ServerConfig{Queue: "work"}, echo, rpc.WithTracerProvider(tp))
	client, _ := newClient(b, rpc.WithTracerProvider(tp))

	ctx, root := tp.Tracer("test").Start(context.Background(), "request")
	_, err := client.Call(ctx, "work", []byte(`{}`), time.Second)
	require.NoError(t, err)
	root.End()

	waitFor(t, func() bool { return len(rec.Ended()) == 3 })
	spans := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range rec.Ended() {
		spans[s.Name()] = s
	}
	call, receive := spans["rpc.call work"], spans["rpc.receive work"]
	require.NotNil(t, call)
	require.NotNil(t, receive)

	assert.Equal(t, root.SpanContext().TraceID(), receive.SpanContext().TraceID())
	assert.Equal(t, call.SpanContext().SpanID(), receive.Parent().SpanID())
	assert.Equal(t, trace.SpanKindConsumer, receive.SpanKind())
	assert.Equal(t, trace.SpanKindProducer, call.SpanKind())
}

func TestPayloadTraceContextIsEmbedded(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	b := rabbittest.NewBroker()

	seen := make(chan []byte, 1)
	h := rpc.HandlerFunc(func(_ context.Context, body []byte) ([]byte, string, error) {
		seen <- body
		return []byte(`{}`), "", nil
	})
	startServer(t, b, rpc.ServerConfig{Queue: "work"}, h)
	client := rpc.NewClient(b, rpc.ClientConfig{PayloadTraceContext: true, PollInterval: 20 * time.Millisecond},
		rpc.WithTracerProvider(tp))

	_, err := client.Call(context.Background(), "work", []byte(`{"data":"x"}`), time.Second)
	require.NoError(t, err)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(<-seen, &body))
	assert.Contains(t, body, tracer.PayloadKey)
	assert.JSONEq(t, `"x"`, string(body["data"]))
}

func TestServerReportsOperations(t *testing.T) {
	b := rabbittest.NewBroker()
	ops := make(chan observability.OperationContext, 4)
	observer := observability.ObserverFunc(func(op observability.OperationContext) { ops <- op })

	startServer(t, b, rpc.ServerConfig{Queue: "work"}, echo, rpc.WithOperationObserver(observer))
	client, _ := newClient(b, rpc.WithOperationObserver(observer))

	_, err := client.Call(context.Background(), "work", []byte(`{"a":1}`), time.Second)
	require.NoError(t, err)

	got := map[string]observability.OperationContext{}
	for len(got) < 2 {
		select {
		case op := <-ops:
			got[op.Operation] = op
		case <-time.After(time.Second):
			t.Fatalf("only saw %v", got)
		}
	}
	assert.Equal(t, "success", got["call"].Status())
	assert.Equal(t, "work", got["handle"].Resource)
	assert.Equal(t, int64(len(`{"a":1}`)), got["handle"].Size)
}

func TestServerRecordsHandlingTime(t *testing.T) {
	b := rabbittest.NewBroker()
	handling := metrics.NewSink(0)
	slow := rpc.HandlerFunc(func(_ context.Context, body []byte) ([]byte, string, error) {
		time.Sleep(30 * time.Millisecond)
		return body, "slow", nil
	})
	startServer(t, b, rpc.ServerConfig{Queue: "work"}, slow, rpc.WithHandlingRecorder(handling))
	client, calls := newClient(b)

	_, err := client.Call(context.Background(), "work", []byte(`{}`), time.Second)
	require.NoError(t, err)

	waitFor(t, func() bool { return handling.Snapshot().Latency.Count == 1 })
	snap := handling.Snapshot()
	require.NotNil(t, snap.Latency.Avg)
	assert.GreaterOrEqual(t, *snap.Latency.Avg, 0.03)
	assert.Zero(t, snap.TimeoutsTotal)
	assert.Equal(t, 1, calls.Snapshot().Latency.Count, "client latency stays in its own window")
}

type memReplies struct {
	mu      sync.Mutex
	replies map[string][]byte
}

func (m *memReplies) Lookup(_ context.Context, queue, id string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.replies[queue+"/"+id]
	return b, ok, nil
}

func (m *memReplies) Store(_ context.Context, queue, id string, reply []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replies == nil {
		m.replies = map[string][]byte{}
	}
	m.replies[queue+"/"+id] = reply
	return nil
}

func TestServerAnswersRedeliveryFromReplyCache(t *testing.T) {
	b := rabbittest.NewBroker()
	var calls atomic.Int32
	h := rpc.HandlerFunc(func(_ context.Context, body []byte) ([]byte, string, error) {
		n := calls.Add(1)
		return []byte(fmt.Sprintf(`{"call":%d}`, n)), "", nil
	})
	cache := &memReplies{}
	startServer(t, b, rpc.ServerConfig{Queue: "work"}, h, rpc.WithReplyCache(cache))

	ch, err := b.OpenChannel()
	require.NoError(t, err)
	defer ch.Close()
	_, err = ch.QueueDeclare("answers", false, false, false, false, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Publish("", "work", amqp.Publishing{
			CorrelationId: "same",
			ReplyTo:       "answers",
			Body:          []byte(`{}`),
		}))
	}

	var bodies []string
	waitFor(t, func() bool {
		if d, ok, _ := ch.Get("answers", true); ok {
			bodies = append(bodies, string(d.Body))
		}
		return len(bodies) == 2
	})
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{`{"call":1}`, `{"call":1}`}, bodies)
}
