package logger

// Supported log levels.
const (
	Debug   = "debug"
	Info    = "info"
	Warning = "warning"
	Error   = "error"
)

// Config controls how the zap logger is built.
type Config struct {
	// Level is one of debug, info, warning or error. Anything else falls back to info.
	Level string `yaml:"level" envconfig:"ZAP_LOGGER_LEVEL"`

	// ServiceName is attached to every entry as the "service" field.
	ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME"`

	// EnableTracing makes the *WithContext methods attach trace_id and span_id
	// taken from the span stored in the context.
	EnableTracing bool `yaml:"enable_tracing" envconfig:"ZAP_LOGGER_ENABLE_TRACING"`

	// Development switches to the console encoder with colored levels.
	Development bool `yaml:"development" envconfig:"ZAP_LOGGER_DEVELOPMENT"`
}
