package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
)

type memWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func TestEventObserverPublishesKeyedJSON(t *testing.T) {
	w := &memWriter{}
	var ops []observability.OperationContext
	client := NewClientWithWriter(Config{Brokers: []string{"b:9092"}, Topic: "events"}, w).
		WithObserver(observability.ObserverFunc(func(op observability.OperationContext) { ops = append(ops, op) }))

	obs := NewEventObserver(client)
	err := obs.OnEvent(context.Background(), tasklog.Event{
		CorrelationID: "c-1",
		QueueName:     "data_queue",
		ServiceName:   "api_sync",
		Status:        tasklog.StatusEnd,
		Description:   "Timeout",
		TaskType:      "data",
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "c-1", string(msg.Key))

	var decoded tasklog.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "Timeout", decoded.Description)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "end", headers["status"])

	require.Len(t, ops, 1)
	assert.Equal(t, "events", ops[0].Resource)
	assert.Equal(t, "success", ops[0].Status())
}

func TestPublishErrors(t *testing.T) {
	w := &memWriter{err: errors.New("leader not available")}
	client := NewClientWithWriter(Config{Topic: "events"}, w)

	err := client.Publish(context.Background(), "k", []byte("v"), nil)
	assert.ErrorContains(t, err, "leader not available")

	require.NoError(t, client.GracefulShutdown())
	assert.True(t, w.closed)
	assert.ErrorIs(t, client.Publish(context.Background(), "k", []byte("v"), nil), ErrClosed)
}

func TestCreateSASLMechanism(t *testing.T) {
	for _, name := range []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"} {
		m, err := createSASLMechanism(SASLConfig{Mechanism: name, Username: "u", Password: "p"})
		require.NoError(t, err, name)
		assert.NotEmpty(t, m.Name())
	}
	_, err := createSASLMechanism(SASLConfig{Mechanism: "GSSAPI"})
	assert.Error(t, err)
}

func TestNewClientRequiresTopic(t *testing.T) {
	_, err := NewClient(Config{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	client, err := NewClient(Config{Brokers: []string{"localhost:9092"}, Topic: "t", CompressionCodec: "zstd"}, nil)
	require.NoError(t, err)
	w, ok := client.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, kafka.RequiredAcks(-1), w.RequiredAcks)
	require.NoError(t, client.GracefulShutdown())
}
