// Package rpc implements synchronous request/reply calls on top of
// RabbitMQ work queues.
//
// # Client
//
// A Client publishes a request to a named durable queue and blocks until the
// matching reply arrives or the timeout elapses. Every call gets a fresh
// correlation id and its own reply queue named "reply_<correlation id>"
// (non-durable, exclusive, auto-delete), consumed before the request is
// published. Calls therefore never share mutable state and a Client can be
// used from any number of goroutines:
//
//	client := rpc.NewClient(rabbitClient, rpc.ClientConfig{},
//		rpc.WithSink(m.Sink),
//		rpc.WithEventObserver(tasklog.NewHTTPObserver(url, 0)),
//	)
//	reply, err := client.Call(ctx, "data_queue", []byte(`{"data":"hi"}`), 30*time.Second)
//	switch {
//	case errors.Is(err, rpc.ErrTimeout):
//	case errors.Is(err, rpc.ErrRemote):
//		// reply.Body holds the receiver's error envelope
//	case err != nil:
//	}
//
// Errors are *CallError values. CallError.Payload renders them in the
// uniform {"error": "..."} shape used across the bridge: "Request timeout"
// for timeouts and "RabbitMQ call failed: <detail>" for broker failures.
//
// A Dispatcher fans calls out in the background with bounded concurrency.
//
// # Server
//
// A Server consumes one work queue with prefetch 1. Before consuming it
// declares the dead-letter topology ("<q>_dlx" and "<q>_dlq") and the work
// queue pointing at it. For each request the Handler returns an Outcome:
//
//   - Ok: the response is published to reply_to and the request is acked.
//   - Fail (including panics and non-JSON responses): an error envelope is
//     published to reply_to and the request is rejected without requeue, so
//     the broker moves it to "<q>_dlq".
//
// Run keeps Config.Consumers consumers alive and restarts them with backoff
// when their channel or connection fails.
//
// # Observation
//
// Both sides emit start/end lifecycle events to a tasklog.Observer,
// report each operation to an observability.Observer, and propagate W3C
// trace context in message headers. Observer failures are logged and never
// change the result of a call.
package rpc
