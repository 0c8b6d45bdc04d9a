package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// ErrClosed is returned by Publish after GracefulShutdown.
var ErrClosed = errors.New("kafka client closed")

// Logger receives errors reported by the kafka-go writer.
type Logger interface {
	Error(msg string, err error, fields ...map[string]interface{})
}

// Writer is the part of *kafka.Writer the client uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaClient publishes messages to one topic.
type KafkaClient struct {
	cfg      Config
	observer observability.Observer
	writer   Writer

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a producer for cfg.Topic. A nil logger discards the
// writer's internal errors.
func NewClient(cfg Config, logger Logger) (*KafkaClient, error) {
	cfg = cfg.withDefaults()
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka: brokers and topic are required")
	}

	var tlsConfig *tls.Config
	var err error
	if cfg.TLS.Enabled {
		tlsConfig, err = createTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	var mechanism sasl.Mechanism
	if cfg.SASL.Enabled {
		mechanism, err = createSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
	}

	return NewClientWithWriter(cfg, createWriter(cfg, tlsConfig, mechanism, logger)), nil
}

// NewClientWithWriter wraps an existing writer.
func NewClientWithWriter(cfg Config, w Writer) *KafkaClient {
	return &KafkaClient{cfg: cfg.withDefaults(), writer: w}
}

// WithObserver attaches an observer for publish operations.
func (k *KafkaClient) WithObserver(observer observability.Observer) *KafkaClient {
	k.observer = observer
	return k
}

// Publish writes one message with the given key and headers.
func (k *KafkaClient) Publish(ctx context.Context, key string, value []byte, headers map[string]string) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return ErrClosed
	}

	msg := kafka.Message{Key: []byte(key), Value: value, Time: time.Now().UTC()}
	for name, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: name, Value: []byte(v)})
	}

	start := time.Now()
	err := k.writer.WriteMessages(ctx, msg)
	if k.observer != nil {
		k.observer.ObserveOperation(observability.OperationContext{
			Component:   "kafka",
			Operation:   "produce",
			Resource:    k.cfg.Topic,
			SubResource: key,
			Duration:    time.Since(start),
			Error:       err,
			Size:        int64(len(value)),
		})
	}
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", k.cfg.Topic, err)
	}
	return nil
}

// GracefulShutdown flushes pending messages and closes the writer.
func (k *KafkaClient) GracefulShutdown() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.writer.Close()
}

func createErrorLogger(logger Logger) kafka.LoggerFunc {
	return func(msg string, args ...interface{}) {
		if logger == nil {
			return
		}
		logger.Error("kafka writer error", nil, map[string]interface{}{
			"error": fmt.Sprintf(msg, args...),
		})
	}
}

func createWriter(cfg Config, tlsConfig *tls.Config, mechanism sasl.Mechanism, logger Logger) *kafka.Writer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Async:        cfg.Async,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		ErrorLogger:  createErrorLogger(logger),
		Transport: &kafka.Transport{
			TLS:  tlsConfig,
			SASL: mechanism,
		},
	}

	switch cfg.CompressionCodec {
	case "gzip":
		w.Compression = compress.Gzip
	case "snappy":
		w.Compression = compress.Snappy
	case "lz4":
		w.Compression = compress.Lz4
	case "zstd":
		w.Compression = compress.Zstd
	}
	return w
}

func createTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
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

func createSASLMechanism(cfg SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "PLAIN":
		return plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
}
