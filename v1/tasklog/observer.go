package tasklog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Lifecycle statuses.
const (
	StatusStart = "start"
	StatusEnd   = "end"
)

// NoDescription is the description of events that carry no detail.
const NoDescription = "-"

// DefaultTaskType is used when a request does not name its task type.
const DefaultTaskType = "data"

// Event is one lifecycle notification of an RPC call or of the handling of
// a request by a receiver.
type Event struct {
	CorrelationID string    `json:"correlation_id"`
	QueueName     string    `json:"queue_name"`
	ServiceName   string    `json:"service_name"`
	Status        string    `json:"status"`
	Description   string    `json:"description"`
	TaskType      string    `json:"task_type"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Observer receives lifecycle events.
type Observer interface {
	OnEvent(ctx context.Context, e Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event) error

// OnEvent calls f.
func (f ObserverFunc) OnEvent(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop discards every event.
type Nop struct{}

// OnEvent does nothing.
func (Nop) OnEvent(context.Context, Event) error { return nil }

// Multi fans an event out to several observers. Every observer is called
// even when an earlier one fails; the errors are joined.
type Multi []Observer

// OnEvent notifies all observers.
func (m Multi) OnEvent(ctx context.Context, e Event) error {
	var errs []error
	for _, o := range m {
		if o == nil {
			continue
		}
		if err := safeCall(ctx, o, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logger is used by Notify to report swallowed failures.
//
//go:generate mockgen -source=observer.go -destination=mock_logger.go -package=tasklog
type Logger interface {
	WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}

// Notify delivers e to o and never fails: errors and panics are logged and
// dropped so that a broken observer cannot break the call it observes.
func Notify(ctx context.Context, o Observer, e Event, log Logger) {
	if o == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := safeCall(ctx, o, e); err != nil && log != nil {
		log.WarnWithContext(ctx, "lifecycle observer failed", err, map[string]interface{}{
			"correlation_id": e.CorrelationID,
			"status":         e.Status,
		})
	}
}

func safeCall(ctx context.Context, o Observer, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return o.OnEvent(ctx, e)
}
