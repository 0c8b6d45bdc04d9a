package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// MinioClient wraps minio.Client with bucket bootstrap, health monitoring
// and reconnection. The active client sits in an atomic pointer so it can
// be swapped without racing concurrent operations.
type MinioClient struct {
	client atomic.Pointer[minio.Client]

	cfg      Config
	observer observability.Observer
	logger   Logger

	shutdownSignal    chan struct{}
	reconnectSignal   chan error
	closeShutdownOnce sync.Once
}

// Option configures a MinioClient.
type Option func(*MinioClient)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *MinioClient) { m.logger = l }
}

// WithObserver reports each operation through o.
func WithObserver(o observability.Observer) Option {
	return func(m *MinioClient) { m.observer = o }
}

// NewClient connects, validates the connection and makes sure the bucket
// exists, creating it if AccessBucketCreation is set.
func NewClient(cfg Config, opts ...Option) (*MinioClient, error) {
	client, err := connectToMinio(cfg)
	if err != nil {
		return nil, err
	}

	m := &MinioClient{
		cfg:             cfg,
		shutdownSignal:  make(chan struct{}),
		reconnectSignal: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.client.Store(client)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.validateConnection(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if err := m.ensureBucketExists(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Bucket is the configured bucket name.
func (m *MinioClient) Bucket() string { return m.cfg.Connection.BucketName }

// Put uploads data under key.
func (m *MinioClient) Put(ctx context.Context, key string, data []byte, contentType string) error {
	c, err := m.current()
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = c.PutObject(ctx, m.cfg.Connection.BucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	err = TranslateError(err)
	m.observeOperation("put", key, time.Since(start), err, int64(len(data)))
	return err
}

// Get downloads the object under key.
func (m *MinioClient) Get(ctx context.Context, key string) ([]byte, error) {
	c, err := m.current()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	obj, err := c.GetObject(ctx, m.cfg.Connection.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		err = TranslateError(err)
		m.observeOperation("get", key, time.Since(start), err, 0)
		return nil, err
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	err = TranslateError(err)
	m.observeOperation("get", key, time.Since(start), err, int64(len(data)))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// List returns the keys under prefix.
func (m *MinioClient) List(ctx context.Context, prefix string) ([]string, error) {
	c, err := m.current()
	if err != nil {
		return nil, err
	}
	var keys []string
	for obj := range c.ListObjects(ctx, m.cfg.Connection.BucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, TranslateError(obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Delete removes the object under key.
func (m *MinioClient) Delete(ctx context.Context, key string) error {
	c, err := m.current()
	if err != nil {
		return err
	}
	start := time.Now()
	err = TranslateError(c.RemoveObject(ctx, m.cfg.Connection.BucketName, key, minio.RemoveObjectOptions{}))
	m.observeOperation("delete", key, time.Since(start), err, 0)
	return err
}

// GracefulShutdown stops the monitoring loops.
func (m *MinioClient) GracefulShutdown() {
	m.closeShutdownOnce.Do(func() {
		close(m.shutdownSignal)
	})
}

func (m *MinioClient) current() (*minio.Client, error) {
	select {
	case <-m.shutdownSignal:
		return nil, ErrClosed
	default:
	}
	c := m.client.Load()
	if c == nil {
		return nil, ErrConnectionFailed
	}
	return c, nil
}

// monitorConnection validates the connection periodically and signals
// retryConnection on failure.
func (m *MinioClient) monitorConnection(ctx context.Context) {
	ticker := time.NewTicker(connectionHealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := m.validateConnection(checkCtx)
			cancel()
			if err != nil {
				m.logError(ctx, "minio health check failed", err, map[string]interface{}{
					"endpoint": m.cfg.Connection.Endpoint,
				})
				select {
				case m.reconnectSignal <- err:
				default:
				}
			}
		case <-m.shutdownSignal:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *MinioClient) retryConnection(ctx context.Context) {
	for {
		select {
		case <-m.shutdownSignal:
			return
		case <-ctx.Done():
			return
		case err := <-m.reconnectSignal:
			m.logWarn(ctx, "minio connection issue detected, reconnecting", err, map[string]interface{}{
				"endpoint": m.cfg.Connection.Endpoint,
			})
			if !m.reconnect(ctx) {
				return
			}
		}
	}
}

// reconnect loops until a fresh client validates. It reports false when
// interrupted by shutdown.
func (m *MinioClient) reconnect(ctx context.Context) bool {
	for {
		select {
		case <-m.shutdownSignal:
			return false
		case <-ctx.Done():
			return false
		default:
		}

		newClient, err := connectToMinio(m.cfg)
		if err == nil {
			checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, err = newClient.BucketExists(checkCtx, m.cfg.Connection.BucketName)
			cancel()
		}
		if err != nil {
			m.logError(ctx, "minio reconnection failed", err, map[string]interface{}{"will_retry_in": "1s"})
			time.Sleep(time.Second)
			continue
		}

		m.client.Store(newClient)
		m.logInfo(ctx, "reconnected to minio", map[string]interface{}{
			"endpoint": m.cfg.Connection.Endpoint,
		})
		return true
	}
}

func connectToMinio(cfg Config) (*minio.Client, error) {
	if cfg.Connection.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint cannot be empty")
	}
	return minio.New(cfg.Connection.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Connection.AccessKeyID, cfg.Connection.SecretAccessKey, ""),
		Secure: cfg.Connection.UseSSL,
		Region: cfg.Connection.Region,
	})
}

func (m *MinioClient) validateConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c := m.client.Load()
	if c == nil {
		return ErrConnectionFailed
	}
	if bucket := m.cfg.Connection.BucketName; bucket != "" {
		_, err := c.BucketExists(ctx, bucket)
		return err
	}
	_, err := c.ListBuckets(ctx)
	return err
}

func (m *MinioClient) ensureBucketExists(ctx context.Context) error {
	bucketName := m.cfg.Connection.BucketName
	if bucketName == "" {
		return fmt.Errorf("bucket name is empty")
	}

	c := m.client.Load()
	exists, err := c.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists, bucket: %v, err: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	if !m.cfg.Connection.AccessBucketCreation {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, bucketName)
	}

	m.logInfo(ctx, "bucket does not exist, creating it", map[string]interface{}{
		"bucket": bucketName,
		"region": m.cfg.Connection.Region,
	})
	if err := c.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: m.cfg.Connection.Region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucketName, err)
	}
	return nil
}
