package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func (l *Logger) fields(err error, fields ...map[string]interface{}) []zap.Field {
	var out []zap.Field
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for _, m := range fields {
		for k, v := range m {
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

func (l *Logger) contextFields(ctx context.Context, err error, fields ...map[string]interface{}) []zap.Field {
	out := l.fields(err, fields...)
	if !l.tracingEnabled || ctx == nil {
		return out
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return out
	}
	return append(out,
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// With returns a child logger that always carries the given fields.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{Zap: l.Zap.With(l.fields(nil, fields)...), tracingEnabled: l.tracingEnabled}
}

// Info logs at info level. err may be nil.
func (l *Logger) Info(msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Info(msg, l.fields(err, fields...)...)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Debug(msg, l.fields(err, fields...)...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Warn(msg, l.fields(err, fields...)...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Error(msg, l.fields(err, fields...)...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Fatal(msg, l.fields(err, fields...)...)
}

// InfoWithContext is Info plus trace correlation from ctx.
func (l *Logger) InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Info(msg, l.contextFields(ctx, err, fields...)...)
}

// DebugWithContext is Debug plus trace correlation from ctx.
func (l *Logger) DebugWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Debug(msg, l.contextFields(ctx, err, fields...)...)
}

// WarnWithContext is Warn plus trace correlation from ctx.
func (l *Logger) WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Warn(msg, l.contextFields(ctx, err, fields...)...)
}

// ErrorWithContext is Error plus trace correlation from ctx.
func (l *Logger) ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Error(msg, l.contextFields(ctx, err, fields...)...)
}
