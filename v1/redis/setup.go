package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// Logger is what the client logs through.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
}

// RedisClient wraps a go-redis client with observability hooks.
type RedisClient struct {
	client redis.UniversalClient
	cfg    Config

	logger   Logger
	observer observability.Observer

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a client for a standalone server. It does not dial;
// use Ping to check the connection.
func NewClient(cfg Config) (*RedisClient, error) {
	cfg = cfg.withDefaults()

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled {
		var err error
		tlsConfig, err = createTLSConfig(cfg.TLS, cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    tlsConfig,
	})
	return &RedisClient{client: client, cfg: cfg}, nil
}

// WithObserver sets the operation observer and returns the client.
func (r *RedisClient) WithObserver(observer observability.Observer) *RedisClient {
	r.observer = observer
	return r
}

// WithLogger sets the logger and returns the client.
func (r *RedisClient) WithLogger(logger Logger) *RedisClient {
	r.logger = logger
	return r
}

// Ping checks that the server answers.
func (r *RedisClient) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return TranslateError(r.client.Ping(ctx).Err())
}

// Get returns the value stored at key, or ErrNotFound.
func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	val, err := r.client.Get(ctx, key).Bytes()
	err = TranslateError(err)
	r.observeOperation("get", key, time.Since(start), ignoreNotFound(err), int64(len(val)))
	return val, err
}

// Set stores value at key. A zero ttl never expires.
func (r *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	start := time.Now()
	err := TranslateError(r.client.Set(ctx, key, value, ttl).Err())
	r.observeOperation("set", key, time.Since(start), err, int64(len(value)))
	return err
}

// Delete removes keys and returns how many existed.
func (r *RedisClient) Delete(ctx context.Context, keys ...string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, ErrClosed
	}

	start := time.Now()
	n, err := r.client.Del(ctx, keys...).Result()
	err = TranslateError(err)
	if len(keys) > 0 {
		r.observeOperation("delete", keys[0], time.Since(start), err, 0)
	}
	return n, err
}

// Close releases the pool. Further calls return ErrClosed.
func (r *RedisClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.logger != nil {
		r.logger.Info("closing redis client", nil)
	}
	return r.client.Close()
}

func (r *RedisClient) observeOperation(operation, key string, d time.Duration, err error, size int64) {
	if r.observer == nil {
		return
	}
	r.observer.ObserveOperation(observability.OperationContext{
		Component: "redis",
		Operation: operation,
		Resource:  key,
		Duration:  d,
		Error:     err,
		Size:      size,
	})
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func createTLSConfig(cfg TLSConfig, defaultServerName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ServerName:         defaultServerName,
	}
	if cfg.ServerName != "" {
		tlsConfig.ServerName = cfg.ServerName
	}

	if cfg.CACertPath != "" {
		caCert, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA cert")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.ClientCertPath != "" && cfg.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
