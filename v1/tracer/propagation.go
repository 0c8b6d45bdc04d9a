package tracer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// PayloadKey is the JSON field that carries trace context inside a request
// body for consumers that drop or rewrite broker headers.
const PayloadKey = "_trace_context"

// HeadersCarrier adapts AMQP-style headers (amqp.Table is a
// map[string]interface{}) to propagation.TextMapCarrier.
type HeadersCarrier map[string]interface{}

// Get returns the value for key when it is a string or byte slice.
func (c HeadersCarrier) Get(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Set stores value under key.
func (c HeadersCarrier) Set(key, value string) { c[key] = value }

// Keys lists the header names.
func (c HeadersCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Propagator moves W3C traceparent/tracestate and baggage between a context
// and a broker message, via headers first and the request body as fallback.
type Propagator struct {
	textMap propagation.TextMapPropagator
}

// NewPropagator returns a propagator for W3C Trace Context plus Baggage.
func NewPropagator() *Propagator {
	return &Propagator{textMap: propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)}
}

// TextMap exposes the underlying otel propagator.
func (p *Propagator) TextMap() propagation.TextMapPropagator {
	return p.textMap
}

// InjectHeaders writes the trace context of ctx into headers.
func (p *Propagator) InjectHeaders(ctx context.Context, headers map[string]interface{}) {
	if headers == nil {
		return
	}
	p.textMap.Inject(ctx, HeadersCarrier(headers))
}

// ExtractHeaders returns ctx enriched with the remote span found in headers.
func (p *Propagator) ExtractHeaders(ctx context.Context, headers map[string]interface{}) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return p.textMap.Extract(ctx, HeadersCarrier(headers))
}

// InjectPayload adds a PayloadKey object to a JSON object body. Bodies that
// are not JSON objects, or a ctx without a span, are returned unchanged.
func (p *Propagator) InjectPayload(ctx context.Context, body []byte) []byte {
	carrier := propagation.MapCarrier{}
	p.textMap.Inject(ctx, carrier)
	if len(carrier) == 0 {
		return body
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return body
	}
	raw, err := json.Marshal(map[string]string(carrier))
	if err != nil {
		return body
	}
	obj[PayloadKey] = raw
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}

// ExtractPayload reads PayloadKey from a JSON object body.
func (p *Propagator) ExtractPayload(ctx context.Context, body []byte) context.Context {
	var envelope struct {
		TraceContext map[string]string `json:"_trace_context"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.TraceContext) == 0 {
		return ctx
	}
	return p.textMap.Extract(ctx, propagation.MapCarrier(envelope.TraceContext))
}

// Extract prefers headers and falls back to the body. The boolean reports
// whether a valid remote span context was found.
func (p *Propagator) Extract(ctx context.Context, headers map[string]interface{}, body []byte) (context.Context, bool) {
	if out := p.ExtractHeaders(ctx, headers); trace.SpanContextFromContext(out).IsRemote() {
		return out, true
	}
	if out := p.ExtractPayload(ctx, body); trace.SpanContextFromContext(out).IsRemote() {
		return out, true
	}
	return ctx, false
}

// Carrier returns the trace context of ctx as a plain string map.
func (p *Propagator) Carrier(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	p.textMap.Inject(ctx, carrier)
	return carrier
}
