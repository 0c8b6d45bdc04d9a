package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
)

// Publisher is satisfied by *KafkaClient.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
}

// EventObserver streams lifecycle events to Kafka as JSON, keyed by
// correlation id so that the events of one call land on one partition.
type EventObserver struct {
	publisher Publisher
}

var _ tasklog.Observer = (*EventObserver)(nil)

// NewEventObserver publishes through p.
func NewEventObserver(p Publisher) *EventObserver {
	return &EventObserver{publisher: p}
}

// OnEvent publishes e.
func (o *EventObserver) OnEvent(ctx context.Context, e tasklog.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return o.publisher.Publish(ctx, e.CorrelationID, body, map[string]string{
		"status":       e.Status,
		"queue_name":   e.QueueName,
		"service_name": e.ServiceName,
		"content-type": "application/json",
	})
}
