package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingCallSettlesOnce(t *testing.T) {
	call := newPendingCall("c", time.Second)
	assert.Equal(t, Waiting, call.State())
	assert.True(t, call.settle(Completed))
	assert.False(t, call.settle(TimedOut))
	assert.Equal(t, Completed, call.State())
	assert.Equal(t, call.IssuedAt.Add(time.Second), call.Deadline())
}

func TestRemoteError(t *testing.T) {
	tests := []struct {
		body    string
		msg     string
		isError bool
	}{
		{`{"status":"success"}`, "", false},
		{`{"error":"Receiver exception","exception":"x"}`, "Receiver exception", true},
		{`{"error":null}`, "", false},
		{`{"error":{"code":3}}`, `{"code":3}`, true},
		{`[1,2]`, "", false},
		{`"plain"`, "", false},
		{``, EmptyResponseMessage, true},
	}
	for _, tt := range tests {
		msg, isErr := remoteError([]byte(tt.body))
		assert.Equal(t, tt.isError, isErr, tt.body)
		assert.Equal(t, tt.msg, msg, tt.body)
	}
}

func TestCallErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(transportError(newPendingCall("c", time.Second), "q", cause))

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.JSONEq(t, `{"error":"RabbitMQ call failed: connection reset"}`, string(ErrorPayload(err)))
	assert.JSONEq(t, `{"error":"boom"}`, string(ErrorPayload(errors.New("boom"))))
}

func TestTaskTypeOf(t *testing.T) {
	assert.Equal(t, "embedding", taskTypeOf([]byte(`{"task_type":"embedding"}`)))
	assert.Equal(t, "data", taskTypeOf([]byte(`{"data":1}`)))
	assert.Equal(t, "data", taskTypeOf([]byte(`[1]`)))
}

func TestInvokeRecoversPanics(t *testing.T) {
	out := invoke(context.Background(), HandlerFunc(func(context.Context, []byte) ([]byte, string, error) {
		panic("kaboom")
	}), nil)
	require.False(t, out.IsOk())
	assert.Contains(t, out.Err().Error(), "kaboom")
}

func TestJSONHandler(t *testing.T) {
	type req struct{ N int }
	type resp struct{ Double int }
	h := JSONHandler(func(_ context.Context, r req) (resp, string, error) {
		return resp{Double: r.N * 2}, "number", nil
	})

	out := h.Handle(context.Background(), []byte(`{"N":4}`))
	require.True(t, out.IsOk())
	assert.JSONEq(t, `{"Double":8}`, string(out.Response()))
	assert.Equal(t, "number", out.Classification())

	assert.False(t, h.Handle(context.Background(), []byte(`nope`)).IsOk())
}

func TestEnvelopeDefaults(t *testing.T) {
	assert.Equal(t, DefaultTimeout, ClientConfig{}.WithDefaults().DefaultTimeout)
	assert.Equal(t, "api_sync", ClientConfig{}.WithDefaults().ServiceName)
	cfg := ServerConfig{}.WithDefaults()
	assert.Equal(t, "data_queue", cfg.Queue)
	assert.Equal(t, 1, cfg.Consumers)
}
