package rpc

import "time"

// Prefetch is the per-consumer prefetch of every receiver. It is the only
// backpressure lever: scale by adding consumers, not by raising it.
const Prefetch = 1

const (
	DefaultClientServiceName = "api_sync"
	DefaultTimeout           = 300 * time.Second
	DefaultPollInterval      = time.Second
	DefaultPublishRetries    = 3
	DefaultWorkers           = 16

	DefaultQueue          = "data_queue"
	DefaultServiceName    = "data"
	DefaultConsumers      = 1
	DefaultReconnectDelay = time.Second
)

// ClientConfig configures the producer side.
type ClientConfig struct {
	// ServiceName identifies the caller in lifecycle events.
	ServiceName string `yaml:"service_name" envconfig:"RPC_CLIENT_SERVICE_NAME"`

	// DefaultTimeout applies when Call is given a timeout <= 0.
	DefaultTimeout time.Duration `yaml:"default_timeout" envconfig:"RPC_DEFAULT_TIMEOUT"`

	// PollInterval is the wait slice of the reply loop. A call never
	// returns later than its timeout plus one slice.
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"RPC_POLL_INTERVAL"`

	// PublishRetries is the number of publish retries after the first attempt.
	PublishRetries uint64 `yaml:"publish_retries" envconfig:"RPC_PUBLISH_RETRIES"`

	// PayloadTraceContext also embeds the trace context in JSON object
	// payloads under "_trace_context".
	PayloadTraceContext bool `yaml:"payload_trace_context" envconfig:"RPC_PAYLOAD_TRACE_CONTEXT"`

	// Workers bounds the number of concurrent calls run by a Dispatcher.
	Workers int `yaml:"workers" envconfig:"RPC_WORKERS"`
}

// WithDefaults fills zero fields.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.ServiceName == "" {
		c.ServiceName = DefaultClientServiceName
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PublishRetries == 0 {
		c.PublishRetries = DefaultPublishRetries
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

// ServerConfig configures a receiver.
type ServerConfig struct {
	// Queue is the durable work queue to consume.
	Queue string `yaml:"queue" envconfig:"QUEUE_NAME"`

	// ServiceName is reported in error envelopes and lifecycle events.
	ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME"`

	// Consumers is the number of independent consumers, each on its own
	// channel with prefetch 1.
	Consumers int `yaml:"consumers" envconfig:"RPC_CONSUMERS"`

	// ReconnectDelay is the first backoff step after a consumer loses its
	// channel.
	ReconnectDelay time.Duration `yaml:"reconnect_delay" envconfig:"RPC_RECONNECT_DELAY"`

	// PublishRetries is the number of reply publish retries.
	PublishRetries uint64 `yaml:"publish_retries" envconfig:"RPC_PUBLISH_RETRIES"`
}

// WithDefaults fills zero fields.
func (c ServerConfig) WithDefaults() ServerConfig {
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.Consumers <= 0 {
		c.Consumers = DefaultConsumers
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.PublishRetries == 0 {
		c.PublishRetries = DefaultPublishRetries
	}
	return c
}
