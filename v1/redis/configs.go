package redis

import "time"

const (
	DefaultHost        = "localhost"
	DefaultPort        = 6379
	DefaultMaxRetries  = 3
	DefaultDialTimeout = 5 * time.Second
	DefaultReadTimeout = 3 * time.Second
	DefaultReplyTTL    = time.Hour
	DefaultKeyPrefix   = "rpc:reply:"
)

// Config holds the connection settings for a standalone Redis server and
// the reply cache kept in it.
type Config struct {
	// Host is the server hostname. Empty disables the reply cache.
	Host string `yaml:"host" envconfig:"REDIS_HOST"`

	// Port defaults to 6379.
	Port int `yaml:"port" envconfig:"REDIS_PORT"`

	// Username is for ACL authentication (Redis 6.0+).
	Username string `yaml:"username" envconfig:"REDIS_USERNAME"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`

	// PoolSize defaults to 10 per CPU.
	PoolSize     int           `yaml:"pool_size" envconfig:"REDIS_POOL_SIZE"`
	MaxRetries   int           `yaml:"max_retries" envconfig:"REDIS_MAX_RETRIES"`
	DialTimeout  time.Duration `yaml:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT"`

	TLS TLSConfig `yaml:"tls"`

	// ReplyTTL is how long a sent reply is remembered.
	ReplyTTL time.Duration `yaml:"reply_ttl" envconfig:"REDIS_REPLY_TTL"`

	// KeyPrefix namespaces the reply cache keys.
	KeyPrefix string `yaml:"key_prefix" envconfig:"REDIS_KEY_PREFIX"`
}

// TLSConfig contains TLS/SSL configuration parameters.
type TLSConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"REDIS_TLS_ENABLED"`
	CACertPath     string `yaml:"ca_cert_path" envconfig:"REDIS_TLS_CA_CERT_PATH"`
	ClientCertPath string `yaml:"client_cert_path" envconfig:"REDIS_TLS_CLIENT_CERT_PATH"`
	ClientKeyPath  string `yaml:"client_key_path" envconfig:"REDIS_TLS_CLIENT_KEY_PATH"`

	// InsecureSkipVerify should only be used in testing.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" envconfig:"REDIS_TLS_INSECURE_SKIP_VERIFY"`

	// ServerName defaults to Host.
	ServerName string `yaml:"server_name" envconfig:"REDIS_TLS_SERVER_NAME"`
}

// Enabled reports whether a server is configured.
func (c Config) Enabled() bool { return c.Host != "" }

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ReplyTTL <= 0 {
		c.ReplyTTL = DefaultReplyTTL
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	return c
}
