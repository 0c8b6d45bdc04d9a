package kafka

import "time"

const (
	DefaultRequiredAcks = -1
	DefaultBatchSize    = 100
	DefaultBatchTimeout = time.Second
	DefaultMaxAttempts  = 10
	DefaultWriteTimeout = 10 * time.Second
)

// Config configures the producer.
type Config struct {
	// Brokers is the list of bootstrap addresses.
	Brokers []string `yaml:"brokers" envconfig:"KAFKA_BROKERS"`

	// Topic receives every message written by the client.
	Topic string `yaml:"topic" envconfig:"KAFKA_TOPIC"`

	// RequiredAcks: -1 all replicas, 1 leader only, 0 none.
	RequiredAcks int `yaml:"required_acks" envconfig:"KAFKA_REQUIRED_ACKS"`

	// Async makes WriteMessages return before delivery.
	Async        bool          `yaml:"async" envconfig:"KAFKA_ASYNC"`
	BatchSize    int           `yaml:"batch_size" envconfig:"KAFKA_BATCH_SIZE"`
	BatchTimeout time.Duration `yaml:"batch_timeout" envconfig:"KAFKA_BATCH_TIMEOUT"`
	MaxAttempts  int           `yaml:"max_attempts" envconfig:"KAFKA_MAX_ATTEMPTS"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"KAFKA_WRITE_TIMEOUT"`

	// CompressionCodec is one of gzip, snappy, lz4, zstd or empty.
	CompressionCodec string `yaml:"compression_codec" envconfig:"KAFKA_COMPRESSION_CODEC"`

	TLS  TLSConfig  `yaml:"tls"`
	SASL SASLConfig `yaml:"sasl"`
}

// Enabled reports whether brokers are configured.
func (c Config) Enabled() bool { return len(c.Brokers) > 0 && c.Topic != "" }

// TLSConfig enables TLS towards the brokers.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled" envconfig:"KAFKA_TLS_ENABLED"`
	CACertPath         string `yaml:"ca_cert_path" envconfig:"KAFKA_TLS_CA_CERT_PATH"`
	ClientCertPath     string `yaml:"client_cert_path" envconfig:"KAFKA_TLS_CLIENT_CERT_PATH"`
	ClientKeyPath      string `yaml:"client_key_path" envconfig:"KAFKA_TLS_CLIENT_KEY_PATH"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" envconfig:"KAFKA_TLS_INSECURE_SKIP_VERIFY"`
}

// SASLConfig enables SASL authentication.
type SASLConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"KAFKA_SASL_ENABLED"`
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	Mechanism string `yaml:"mechanism" envconfig:"KAFKA_SASL_MECHANISM"`
	Username  string `yaml:"username" envconfig:"KAFKA_SASL_USERNAME"`
	Password  string `yaml:"password" envconfig:"KAFKA_SASL_PASSWORD"`
}

func (c Config) withDefaults() Config {
	if c.RequiredAcks == 0 {
		c.RequiredAcks = DefaultRequiredAcks
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}
