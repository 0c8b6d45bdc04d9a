package postgres

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// Logger is what the connection loops log through.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// Postgres is a wrapper around gorm.DB that provides connection monitoring,
// automatic reconnection, and standardized database operations.
//
// Concurrency: the active *gorm.DB is stored in an atomic pointer and can be
// swapped during reconnection without blocking readers.
type Postgres struct {
	cfg             Config
	client          atomic.Pointer[gorm.DB]
	logger          Logger
	observer        observability.Observer
	shutdownSignal  chan struct{}
	retryChanSignal chan error

	closeRetryChanOnce sync.Once
	closeShutdownOnce  sync.Once
}

// Option configures a Postgres client.
type Option func(*Postgres)

// WithLogger sets the logger of the connection loops.
func WithLogger(l Logger) Option {
	return func(p *Postgres) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver reports every query through o.
func WithObserver(o observability.Observer) Option {
	return func(p *Postgres) { p.observer = o }
}

// NewPostgres connects to the database described by cfg.
func NewPostgres(cfg Config, opts ...Option) (*Postgres, error) {
	pg := &Postgres{
		cfg:             cfg,
		logger:          nopLogger{},
		shutdownSignal:  make(chan struct{}),
		retryChanSignal: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(pg)
	}

	conn, err := connectToPostgres(cfg)
	if err != nil {
		return nil, fmt.Errorf("error in connecting to postgres: %w", err)
	}
	pg.client.Store(conn)
	pg.logger.Info("connected to postgres", nil, map[string]interface{}{
		"host":     cfg.Connection.Host,
		"database": cfg.Connection.DbName,
	})
	return pg, nil
}

func connectToPostgres(cfg Config) (*gorm.DB, error) {
	database, err := gorm.Open(
		postgres.Open(cfg.Connection.DSN()),
		&gorm.Config{
			TranslateError: true,
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get PostgreSQL database instance: %w", err)
	}

	maxOpen := cfg.ConnectionDetails.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 50
	}
	maxIdle := cfg.ConnectionDetails.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 25
	}
	maxLifetime := cfg.ConnectionDetails.ConnMaxLifetime
	if maxLifetime == 0 {
		maxLifetime = time.Minute
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLifetime)

	return database, nil
}

// DB returns the current *gorm.DB.
func (p *Postgres) DB() *gorm.DB {
	return p.client.Load()
}

// RetryConnection waits for failure signals from MonitorConnection and
// reconnects until it succeeds, then waits again.
func (p *Postgres) RetryConnection(ctx context.Context) {
outerLoop:
	for {
		select {
		case <-p.shutdownSignal:
			return
		case <-ctx.Done():
			return
		case err, ok := <-p.retryChanSignal:
			if !ok {
				return
			}
			p.logger.Error("postgres health check failed, reconnecting", err)
			for {
				select {
				case <-p.shutdownSignal:
					return
				case <-ctx.Done():
					return
				default:
				}
				newConn, err := connectToPostgres(p.cfg)
				if err != nil {
					p.logger.Error("postgres reconnection failed", err)
					time.Sleep(time.Second)
					continue
				}
				old := p.client.Swap(newConn)
				if old != nil {
					if sqlDB, err := old.DB(); err == nil {
						_ = sqlDB.Close()
					}
				}
				p.logger.Info("reconnected to postgres", nil)
				continue outerLoop
			}
		}
	}
}

// MonitorConnection pings the database every interval and signals
// RetryConnection when the ping fails.
func (p *Postgres) MonitorConnection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdownSignal:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.HealthCheck(ctx); err != nil {
				select {
				case p.retryChanSignal <- err:
				default:
				}
			}
		}
	}
}

// HealthCheck pings the database with a five second timeout.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	dbConn := p.DB()
	if dbConn == nil {
		return ErrNotConnected
	}
	sqlDB, err := dbConn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance during health check: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed during health check: %w", err)
	}
	return nil
}

// GracefulShutdown stops the connection loops and closes the pool.
func (p *Postgres) GracefulShutdown() error {
	p.closeShutdownOnce.Do(func() {
		close(p.shutdownSignal)
	})
	p.closeRetryChanOnce.Do(func() {
		close(p.retryChanSignal)
	})

	dbConn := p.DB()
	if dbConn == nil {
		return nil
	}
	sqlDB, err := dbConn.DB()
	if err != nil {
		return nil
	}
	return sqlDB.Close()
}

type nopLogger struct{}

func (nopLogger) Info(string, error, ...map[string]interface{})  {}
func (nopLogger) Error(string, error, ...map[string]interface{}) {}
