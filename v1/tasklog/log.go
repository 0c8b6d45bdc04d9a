package tasklog

import "context"

// DebugLogger is the logger surface of LogObserver.
type DebugLogger interface {
	DebugWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}

// LogObserver writes events to a structured logger at debug level.
type LogObserver struct {
	log DebugLogger
}

// NewLogObserver wraps log.
func NewLogObserver(log DebugLogger) *LogObserver {
	return &LogObserver{log: log}
}

// OnEvent logs e.
func (l *LogObserver) OnEvent(ctx context.Context, e Event) error {
	l.log.DebugWithContext(ctx, "rpc lifecycle", nil, map[string]interface{}{
		"correlation_id": e.CorrelationID,
		"queue":          e.QueueName,
		"service":        e.ServiceName,
		"status":         e.Status,
		"description":    e.Description,
		"task_type":      e.TaskType,
	})
	return nil
}
