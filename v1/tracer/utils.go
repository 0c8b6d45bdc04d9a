package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Aleph-Alpha/rpcbridge"

// StartSpan starts a span as a child of whatever span ctx carries.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.provider.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// RecordErrorOnSpan records err and marks the span failed.
func RecordErrorOnSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes converts a loosely typed map into span attributes. Unknown
// value types are stringified.
func SetAttributes(span trace.Span, attrs map[string]interface{}) {
	if len(attrs) == 0 {
		return
	}
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			kv = append(kv, attribute.String(k, val))
		case int:
			kv = append(kv, attribute.Int(k, val))
		case int64:
			kv = append(kv, attribute.Int64(k, val))
		case float64:
			kv = append(kv, attribute.Float64(k, val))
		case bool:
			kv = append(kv, attribute.Bool(k, val))
		default:
			kv = append(kv, attribute.String(k, fmt.Sprint(val)))
		}
	}
	span.SetAttributes(kv...)
}
