package minio

import (
	"context"
	"time"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// Logger is the logging surface of the client.
type Logger interface {
	InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}

// observeOperation reports one storage operation. resource is the bucket
// and subResource the object key.
func (m *MinioClient) observeOperation(operation, subResource string, duration time.Duration, err error, size int64) {
	if m == nil || m.observer == nil {
		return
	}
	m.observer.ObserveOperation(observability.OperationContext{
		Component:   "minio",
		Operation:   operation,
		Resource:    m.cfg.Connection.BucketName,
		SubResource: subResource,
		Duration:    duration,
		Error:       err,
		Size:        size,
	})
}

func (m *MinioClient) logInfo(ctx context.Context, msg string, fields map[string]interface{}) {
	if m.logger != nil {
		m.logger.InfoWithContext(ctx, msg, nil, fields)
	}
}

func (m *MinioClient) logWarn(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	if m.logger != nil {
		m.logger.WarnWithContext(ctx, msg, err, fields)
	}
}

func (m *MinioClient) logError(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	if m.logger != nil {
		m.logger.ErrorWithContext(ctx, msg, err, fields)
	}
}
