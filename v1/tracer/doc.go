// Package tracer bootstraps OpenTelemetry and carries trace context across
// the message broker.
//
// A caller's span is serialised into the AMQP headers of the request as W3C
// traceparent/tracestate (and baggage). Some producers also embed the same
// map in the JSON body under "_trace_context"; the receiver reads headers
// first and falls back to the body, so the receiver's processing span joins
// the caller's trace either way.
//
//	prop := tracer.NewPropagator()
//	headers := amqp.Table{}
//	prop.InjectHeaders(ctx, headers)
//
//	// on the consumer side
//	ctx, ok := prop.Extract(ctx, delivery.Headers, delivery.Body)
package tracer
