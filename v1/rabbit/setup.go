package rabbit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

const defaultHeartbeat = 10 * time.Second

// RabbitClient owns one AMQP connection and reopens it when the broker
// drops it. Channels are opened per use through OpenChannel.
type RabbitClient struct {
	cfg Config

	conn *amqp.Connection
	mu   sync.RWMutex

	logger   Logger
	observer observability.Observer

	shutdownSignal    chan struct{}
	closeShutdownOnce sync.Once
}

// Option customises a RabbitClient.
type Option func(*RabbitClient)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(rb *RabbitClient) { rb.logger = l }
}

// WithObserver sets the operation observer.
func WithObserver(o observability.Observer) Option {
	return func(rb *RabbitClient) { rb.observer = o }
}

// NewClient dials the broker once. Use RetryConnection to keep the
// connection alive afterwards.
func NewClient(cfg Config, opts ...Option) (*RabbitClient, error) {
	rb := &RabbitClient{
		cfg:            cfg,
		shutdownSignal: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rb)
	}

	if err := cfg.Connection.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	conn, err := newConnection(cfg.Connection)
	rb.observe("connect", cfg.Connection.Host, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	rb.conn = conn
	rb.logInfo("connected to rabbit", map[string]interface{}{"url": cfg.Connection.Redacted()})
	return rb, nil
}

// OpenChannel opens a channel on the current connection.
func (rb *RabbitClient) OpenChannel() (Channel, error) {
	rb.mu.RLock()
	conn := rb.conn
	rb.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", TranslateError(err))
	}
	return ch, nil
}

// IsConnected reports whether the current connection is open.
func (rb *RabbitClient) IsConnected() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.conn != nil && !rb.conn.IsClosed()
}

// RetryConnection blocks until ctx is done or GracefulShutdown is called,
// redialling with exponential backoff whenever the connection closes.
func (rb *RabbitClient) RetryConnection(ctx context.Context) {
	for {
		rb.mu.RLock()
		conn := rb.conn
		rb.mu.RUnlock()

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-ctx.Done():
			return
		case <-rb.shutdownSignal:
			return
		case amqpErr := <-closed:
			if rb.isShuttingDown() {
				return
			}
			var err error = ErrConnectionLost
			if amqpErr != nil {
				err = TranslateError(amqpErr)
			}
			rb.logWarn("rabbit connection closed, reconnecting", err)
		}

		if err := rb.reconnect(ctx); err != nil {
			return
		}
	}
}

func (rb *RabbitClient) reconnect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	if rb.cfg.Reconnect.InitialInterval > 0 {
		b.InitialInterval = rb.cfg.Reconnect.InitialInterval
	}
	if rb.cfg.Reconnect.MaxInterval > 0 {
		b.MaxInterval = rb.cfg.Reconnect.MaxInterval
	}
	b.MaxElapsedTime = 0

	stop, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-rb.shutdownSignal:
			cancel()
		case <-stop.Done():
		}
	}()

	return backoff.RetryNotify(func() error {
		start := time.Now()
		conn, err := newConnection(rb.cfg.Connection)
		rb.observe("reconnect", rb.cfg.Connection.Host, time.Since(start), err)
		if err != nil {
			return err
		}
		rb.mu.Lock()
		rb.conn = conn
		rb.mu.Unlock()
		rb.logInfo("reconnected to rabbit", nil)
		return nil
	}, backoff.WithContext(b, stop), func(err error, next time.Duration) {
		rb.logWarn("rabbit reconnection failed", err, map[string]interface{}{"retry_in": next.String()})
	})
}

// GracefulShutdown stops RetryConnection and closes the connection.
func (rb *RabbitClient) GracefulShutdown() {
	rb.closeShutdownOnce.Do(func() { close(rb.shutdownSignal) })

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.conn != nil && !rb.conn.IsClosed() {
		if err := rb.conn.Close(); err != nil {
			rb.logWarn("closing rabbit connection", err)
		}
	}
}

func (rb *RabbitClient) isShuttingDown() bool {
	select {
	case <-rb.shutdownSignal:
		return true
	default:
		return false
	}
}

func newConnection(c Connection) (*amqp.Connection, error) {
	heartbeat := c.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	amqpCfg := amqp.Config{
		Heartbeat:  heartbeat,
		Properties: amqp.NewConnectionProperties(),
	}
	if c.Name != "" {
		amqpCfg.Properties.SetClientConnectionName(c.Name)
	}

	if c.IsSSLEnabled {
		tlsCfg := &tls.Config{ServerName: c.ServerName}
		if c.UseCert {
			caCert, err := os.ReadFile(c.CACertPath)
			if err != nil {
				return nil, fmt.Errorf("%w: read ca cert: %v", ErrCertificateError, err)
			}
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(caCert)
			cert, err := tls.LoadX509KeyPair(c.ClientCertPath, c.ClientKeyPath)
			if err != nil {
				return nil, fmt.Errorf("%w: load client cert: %v", ErrCertificateError, err)
			}
			tlsCfg.RootCAs = pool
			tlsCfg.Certificates = []tls.Certificate{cert}
		}
		amqpCfg.TLSClientConfig = tlsCfg
	}

	conn, err := amqp.DialConfig(c.URI(), amqpCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, TranslateError(err))
	}
	return conn, nil
}
