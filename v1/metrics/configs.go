package metrics

// DefaultMetricsAddress is used when Config.Address is empty.
const DefaultMetricsAddress = ":9090"

// Config controls the Prometheus registry and the HTTP server exposing it.
type Config struct {
	// Address the HTTP server listens on, e.g. ":9090" or "127.0.0.1:9100".
	Address string `yaml:"address" envconfig:"METRICS_ADDRESS"`

	// EnableDefaultCollectors registers the Go runtime, process and build
	// info collectors.
	EnableDefaultCollectors bool `yaml:"enable_default_collectors" envconfig:"METRICS_ENABLE_DEFAULT_COLLECTORS"`

	// Namespace prefixes every metric name registered by this package.
	Namespace string `yaml:"namespace" envconfig:"METRICS_NAMESPACE"`

	// ServiceName is added as a constant "service" label.
	ServiceName string `yaml:"service_name" envconfig:"METRICS_SERVICE_NAME"`

	// Window is the number of latency samples the Sink retains. Zero means 1000.
	Window int `yaml:"window" envconfig:"METRICS_WINDOW"`
}
