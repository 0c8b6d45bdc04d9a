package rabbit

import (
	"context"
	"time"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

func (rb *RabbitClient) observe(operation, resource string, d time.Duration, err error) {
	if rb.observer == nil {
		return
	}
	rb.observer.ObserveOperation(observability.OperationContext{
		Component: "rabbit",
		Operation: operation,
		Resource:  resource,
		Duration:  d,
		Error:     err,
	})
}

func (rb *RabbitClient) logInfo(msg string, fields map[string]interface{}) {
	if rb.logger != nil {
		rb.logger.InfoWithContext(context.Background(), msg, nil, fields)
	}
}

func (rb *RabbitClient) logWarn(msg string, err error, fields ...map[string]interface{}) {
	if rb.logger != nil {
		rb.logger.WarnWithContext(context.Background(), msg, err, fields...)
	}
}
