// Package config loads the configuration shared by the binaries: an
// optional YAML file, then environment overrides, then defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Aleph-Alpha/rpcbridge/v1/kafka"
	"github.com/Aleph-Alpha/rpcbridge/v1/logger"
	"github.com/Aleph-Alpha/rpcbridge/v1/metrics"
	"github.com/Aleph-Alpha/rpcbridge/v1/minio"
	"github.com/Aleph-Alpha/rpcbridge/v1/postgres"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/redis"
	"github.com/Aleph-Alpha/rpcbridge/v1/rpc"
	"github.com/Aleph-Alpha/rpcbridge/v1/tracer"
)

// EnvPath names the variable holding the config file path.
const EnvPath = "RPCBRIDGE_CONFIG"

const (
	defaultRabbitHost     = "localhost"
	defaultRabbitUser     = "guest"
	defaultRabbitPassword = "guest"
	defaultTaskLogTimeout = time.Second
)

// TaskLog configures the remote lifecycle log.
type TaskLog struct {
	// URL receives one JSON post per lifecycle event. Empty disables it.
	URL     string        `yaml:"url" envconfig:"LOGGER_URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"LOGGER_TIMEOUT"`

	// Persist writes events to the task_logs table when Postgres is configured.
	Persist bool `yaml:"persist" envconfig:"TASKLOG_PERSIST"`
}

// Config aggregates every package configuration.
type Config struct {
	Logger   logger.Config    `yaml:"logger"`
	Tracer   tracer.Config    `yaml:"tracer"`
	Metrics  metrics.Config   `yaml:"metrics"`
	Rabbit   rabbit.Config    `yaml:"rabbit"`
	Client   rpc.ClientConfig `yaml:"client"`
	Server   rpc.ServerConfig `yaml:"server"`
	TaskLog  TaskLog          `yaml:"tasklog"`
	Postgres postgres.Config  `yaml:"postgres"`
	Kafka    kafka.Config     `yaml:"kafka"`
	Minio    minio.Config     `yaml:"minio"`
	Redis    redis.Config     `yaml:"redis"`
}

// Load reads path (skipped when empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config: %w", err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("cannot apply environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv is Load with the path taken from RPCBRIDGE_CONFIG.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(EnvPath))
}

func (c *Config) applyDefaults() {
	conn := &c.Rabbit.Connection
	if conn.URL == "" {
		if conn.Host == "" {
			conn.Host = defaultRabbitHost
		}
		if conn.User == "" {
			conn.User = defaultRabbitUser
		}
		if conn.Password == "" {
			conn.Password = defaultRabbitPassword
		}
	}

	c.Client = c.Client.WithDefaults()
	c.Server = c.Server.WithDefaults()

	if c.Logger.ServiceName == "" {
		c.Logger.ServiceName = c.Server.ServiceName
	}
	if c.Tracer.ServiceName == "" {
		c.Tracer.ServiceName = c.Server.ServiceName
	}
	if c.Metrics.ServiceName == "" {
		c.Metrics.ServiceName = c.Server.ServiceName
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = metrics.DefaultMetricsAddress
	}
	if c.TaskLog.Timeout <= 0 {
		c.TaskLog.Timeout = defaultTaskLogTimeout
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Rabbit.Connection.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rabbit: %w", err))
	}
	if strings.HasSuffix(c.Server.Queue, "_dlq") {
		errs = append(errs, fmt.Errorf("server: queue %q is a dead-letter queue", c.Server.Queue))
	}
	if c.Server.Consumers > 64 {
		errs = append(errs, fmt.Errorf("server: consumers %d is unusually high (>64)", c.Server.Consumers))
	}
	if c.Client.PollInterval > c.Client.DefaultTimeout {
		errs = append(errs, fmt.Errorf("client: poll_interval %s exceeds default_timeout %s",
			c.Client.PollInterval, c.Client.DefaultTimeout))
	}
	if c.Metrics.Window < 0 {
		errs = append(errs, fmt.Errorf("metrics: window %d must be >= 0", c.Metrics.Window))
	}
	if c.TaskLog.Persist && !c.Postgres.Enabled() {
		errs = append(errs, errors.New("tasklog: persist requires postgres host"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka: topic is required when brokers are set"))
	}
	if c.Minio.Connection.Endpoint != "" && c.Minio.Connection.BucketName == "" {
		errs = append(errs, errors.New("minio: bucket_name is required when endpoint is set"))
	}
	if c.Redis.ReplyTTL < 0 {
		errs = append(errs, fmt.Errorf("redis: reply_ttl %s must be >= 0", c.Redis.ReplyTTL))
	}

	return errors.Join(errs...)
}

// QueueName resolves the work queue of a named service: the
// "<SERVICE>_QUEUE_NAME" variable, or "<service>_queue".
func QueueName(service string) string {
	key := strings.ToUpper(service) + "_QUEUE_NAME"
	if q := os.Getenv(key); q != "" {
		return q
	}
	return service + "_queue"
}
