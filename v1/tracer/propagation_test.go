package tracer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func spanContext(t *testing.T) (context.Context, trace.Span, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	ctx, span := tp.Tracer("test").Start(context.Background(), "caller")
	return ctx, span, rec
}

func TestInjectExtractHeaders(t *testing.T) {
	ctx, span, _ := spanContext(t)
	defer span.End()
	p := NewPropagator()

	headers := map[string]interface{}{}
	p.InjectHeaders(ctx, headers)
	require.Contains(t, headers, "traceparent")

	out, ok := p.Extract(context.Background(), headers, nil)
	require.True(t, ok)
	sc := trace.SpanContextFromContext(out)
	assert.Equal(t, span.SpanContext().TraceID(), sc.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), sc.SpanID())
	assert.True(t, sc.IsRemote())
}

func TestExtractFallsBackToPayload(t *testing.T) {
	ctx, span, _ := spanContext(t)
	defer span.End()
	p := NewPropagator()

	body := p.InjectPayload(ctx, []byte(`{"payload":"abc"}`))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "abc", decoded["payload"])
	require.Contains(t, decoded, PayloadKey)

	out, ok := p.Extract(context.Background(), map[string]interface{}{}, body)
	require.True(t, ok)
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(out).TraceID())
}

func TestInjectPayloadLeavesNonObjectsAlone(t *testing.T) {
	ctx, span, _ := spanContext(t)
	defer span.End()
	p := NewPropagator()

	assert.Equal(t, []byte(`"abc"`), p.InjectPayload(ctx, []byte(`"abc"`)))
	assert.Equal(t, []byte(`not json`), p.InjectPayload(ctx, []byte(`not json`)))
}

func TestInjectWithoutSpanIsNoop(t *testing.T) {
	p := NewPropagator()
	headers := map[string]interface{}{}
	p.InjectHeaders(context.Background(), headers)
	assert.Empty(t, headers)
	assert.Equal(t, []byte(`{"a":1}`), p.InjectPayload(context.Background(), []byte(`{"a":1}`)))
}

func TestExtractWithoutContext(t *testing.T) {
	p := NewPropagator()
	ctx, ok := p.Extract(context.Background(), nil, []byte(`{"payload":1}`))
	assert.False(t, ok)
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}

func TestHeadersCarrierGet(t *testing.T) {
	c := HeadersCarrier{"a": "x", "b": []byte("y"), "c": 3}
	assert.Equal(t, "x", c.Get("a"))
	assert.Equal(t, "y", c.Get("b"))
	assert.Equal(t, "3", c.Get("c"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, c.Keys())
}

func TestStartSpanIsChildOfRemote(t *testing.T) {
	ctx, span, rec := spanContext(t)
	p := NewPropagator()
	headers := map[string]interface{}{}
	p.InjectHeaders(ctx, headers)
	span.End()

	tr, err := NewClient(Config{ServiceName: "receiver"}, nil)
	require.NoError(t, err)
	defer func() { _ = tr.Shutdown(context.Background()) }()

	remote, _ := p.Extract(context.Background(), headers, nil)
	_, child := tr.StartSpan(remote, "rpc.receive data_queue")
	child.End()

	require.Len(t, rec.Ended(), 1)
	ro := child.(sdktrace.ReadOnlySpan)
	assert.Equal(t, span.SpanContext().TraceID(), ro.SpanContext().TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), ro.Parent().SpanID())
}
