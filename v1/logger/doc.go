// Package logger is the structured logging layer of rpcbridge, built on go.uber.org/zap.
//
// All methods share one shape: a message, an optional error and any number of
// field maps. The *WithContext variants additionally attach the trace and span
// ids of the active OpenTelemetry span when Config.EnableTracing is set, which
// lets a log line be joined with the RPC trace that produced it.
//
//	log, _ := logger.NewLoggerClient(logger.Config{Level: logger.Debug, EnableTracing: true})
//	log.InfoWithContext(ctx, "reply published", nil, map[string]interface{}{
//	    "correlation_id": id,
//	})
//
// Packages that log declare their own narrow Logger interface, which *Logger
// satisfies, so they can be tested with gomock instead of a real zap core.
package logger
