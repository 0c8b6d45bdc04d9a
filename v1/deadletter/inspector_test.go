package deadletter_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aleph-Alpha/rpcbridge/v1/deadletter"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit/rabbittest"
)

const queue = "data_queue"

// deadLetter publishes each body to the work queue and rejects it.
func deadLetter(t *testing.T, b *rabbittest.Broker, bodies ...string) {
	t.Helper()
	ch, err := b.OpenChannel()
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	require.NoError(t, rabbit.NewTopology(queue).Declare(ch))
	for i, body := range bodies {
		require.NoError(t, b.Publish("", queue, amqp.Publishing{
			CorrelationId: "corr-" + string(rune('a'+i)),
			ReplyTo:       "reply_corr",
			ContentType:   "application/json",
			Headers:       amqp.Table{"traceparent": "00-abc-def-01"},
			Body:          []byte(body),
		}))
		d, ok, err := ch.Get(queue, false)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, d.Reject(false))
	}
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return nil
}

func TestPeekLeavesMessagesInPlace(t *testing.T) {
	b := rabbittest.NewBroker()
	deadLetter(t, b, `{"n":1}`, `{"n":2}`, `not json`)
	insp := deadletter.NewInspector(b, nil)

	entries, err := insp.Peek(context.Background(), queue, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "corr-a", entries[0].CorrelationID)
	assert.Equal(t, "reply_corr", entries[0].ReplyTo)
	assert.Equal(t, "rejected", entries[0].Reason)
	assert.Equal(t, int64(1), entries[0].Count)
	assert.Equal(t, queue, entries[0].OriginalQueue)
	assert.False(t, entries[0].DeadLetteredAt.IsZero())
	assert.JSONEq(t, `{"n":1}`, string(entries[0].Body))
	assert.JSONEq(t, `"not json"`, string(entries[2].Body))

	state, ok := b.Queue(queue + "_dlq")
	require.True(t, ok)
	assert.Equal(t, 3, state.Ready)
	assert.Equal(t, 0, state.Unacked)

	again, err := insp.Peek(context.Background(), queue, 2)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, "corr-a", again[0].CorrelationID)
	assert.Equal(t, "corr-b", again[1].CorrelationID)
}

func TestReplayMovesToWorkQueue(t *testing.T) {
	b := rabbittest.NewBroker()
	deadLetter(t, b, `{"n":1}`, `{"n":2}`)
	insp := deadletter.NewInspector(b, nil)

	moved, err := insp.Replay(context.Background(), queue, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	work, _ := b.Queue(queue)
	dlq, _ := b.Queue(queue + "_dlq")
	assert.Equal(t, 1, work.Ready)
	assert.Equal(t, 1, dlq.Ready)

	msgs := b.Messages(queue)
	require.Len(t, msgs, 1)
	assert.Equal(t, "corr-a", msgs[0].CorrelationId)
	assert.Equal(t, "reply_corr", msgs[0].ReplyTo)
	assert.Equal(t, "00-abc-def-01", msgs[0].Headers["traceparent"])
	assert.NotContains(t, msgs[0].Headers, "x-death")
	assert.NotContains(t, msgs[0].Headers, "x-first-death-queue")

	moved, err = insp.Replay(context.Background(), queue, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	dlq, _ = b.Queue(queue + "_dlq")
	assert.Equal(t, 0, dlq.Ready)
}

func TestArchiveStoresThenAcks(t *testing.T) {
	b := rabbittest.NewBroker()
	deadLetter(t, b, `{"n":1}`, `{"n":2}`)
	insp := deadletter.NewInspector(b, nil)
	store := &memStore{}

	n, err := insp.Archive(context.Background(), queue, store, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, store.objects, 2)

	for key, data := range store.objects {
		assert.True(t, strings.HasPrefix(key, queue+"_dlq/"), key)
		assert.True(t, strings.HasSuffix(key, ".json"), key)
		var e deadletter.Entry
		require.NoError(t, json.Unmarshal(data, &e))
		assert.Equal(t, "rejected", e.Reason)
	}

	dlq, _ := b.Queue(queue + "_dlq")
	assert.Equal(t, 0, dlq.Ready)
}

func TestArchiveFailureKeepsMessage(t *testing.T) {
	b := rabbittest.NewBroker()
	deadLetter(t, b, `{"n":1}`, `{"n":2}`)
	insp := deadletter.NewInspector(b, nil)
	store := &memStore{err: errors.New("bucket gone")}

	n, err := insp.Archive(context.Background(), queue, store, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	assert.Equal(t, 0, n)

	dlq, _ := b.Queue(queue + "_dlq")
	assert.Equal(t, 2, dlq.Ready)
	assert.Equal(t, 0, dlq.Unacked)
}

func TestMissingDeadLetterQueue(t *testing.T) {
	b := rabbittest.NewBroker()
	insp := deadletter.NewInspector(b, nil)

	_, err := insp.Peek(context.Background(), "nowhere", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, rabbit.ErrNotFound)
}

func TestStats(t *testing.T) {
	b := rabbittest.NewBroker()
	deadLetter(t, b, `{}`)
	insp := deadletter.NewInspector(b, nil)

	stats := insp.Stats(context.Background(), queue)
	assert.Equal(t, 0, stats[queue].Messages)
	assert.Equal(t, 1, stats[queue+"_dlq"].Messages)
}
