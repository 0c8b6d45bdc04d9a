// Package observability defines the hook components use to report the
// outcome of individual broker and storage operations.
//
// The rabbit, rpc, postgres, kafka and minio packages accept an optional
// Observer. The metrics package provides the Prometheus-backed
// implementation; tests usually plug in a recording fake.
package observability

import "time"

// OperationContext describes one finished operation.
type OperationContext struct {
	// Component is the emitting package, e.g. "rabbit" or "rpc".
	Component string

	// Operation is the verb, e.g. "publish", "call", "handle".
	Operation string

	// Resource is the primary target, usually a queue, table or bucket.
	Resource string

	// SubResource narrows Resource, e.g. a routing key or object key.
	SubResource string

	Duration time.Duration

	// Error is nil on success.
	Error error

	// Size is the payload size in bytes when known.
	Size int64

	Metadata map[string]string
}

// Observer receives operation reports. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	ObserveOperation(ctx OperationContext)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(OperationContext)

// ObserveOperation calls f.
func (f ObserverFunc) ObserveOperation(ctx OperationContext) { f(ctx) }

// Status returns "success" or "error" for labelling.
func (c OperationContext) Status() string {
	if c.Error != nil {
		return "error"
	}
	return "success"
}
