package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// Client is the subset of operations the task log store needs.
type Client interface {
	Create(ctx context.Context, value interface{}) error
	Find(ctx context.Context, dest interface{}, conditions ...interface{}) error
	First(ctx context.Context, dest interface{}, conditions ...interface{}) error
	Count(ctx context.Context, model interface{}, count *int64, query interface{}, args ...interface{}) error
	Query(ctx context.Context) *QueryBuilder
	Migrate(models ...interface{}) error
	Transaction(ctx context.Context, fn func(tx Client) error) error
}

var _ Client = (*Postgres)(nil)

// Create inserts value.
func (p *Postgres) Create(ctx context.Context, value interface{}) error {
	return p.run(ctx, "create", func(db *gorm.DB) error {
		return db.Create(value).Error
	})
}

// Find loads every record matching conditions into dest.
func (p *Postgres) Find(ctx context.Context, dest interface{}, conditions ...interface{}) error {
	return p.run(ctx, "find", func(db *gorm.DB) error {
		return db.Find(dest, conditions...).Error
	})
}

// First loads the first matching record, ordered by primary key.
func (p *Postgres) First(ctx context.Context, dest interface{}, conditions ...interface{}) error {
	return p.run(ctx, "first", func(db *gorm.DB) error {
		return db.First(dest, conditions...).Error
	})
}

// Count counts the records of model matching query.
func (p *Postgres) Count(ctx context.Context, model interface{}, count *int64, query interface{}, args ...interface{}) error {
	return p.run(ctx, "count", func(db *gorm.DB) error {
		return db.Model(model).Where(query, args...).Count(count).Error
	})
}

// Migrate runs AutoMigrate for models.
func (p *Postgres) Migrate(models ...interface{}) error {
	return p.run(context.Background(), "migrate", func(db *gorm.DB) error {
		return db.AutoMigrate(models...)
	})
}

// Transaction runs fn inside a transaction. Returning an error rolls back.
func (p *Postgres) Transaction(ctx context.Context, fn func(tx Client) error) error {
	return p.run(ctx, "transaction", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			return fn(p.withTx(tx))
		})
	})
}

// run executes op on the current connection, translates its error and
// reports it to the observer.
func (p *Postgres) run(ctx context.Context, operation string, op func(db *gorm.DB) error) error {
	db := p.DB()
	if db == nil {
		return ErrNotConnected
	}
	start := time.Now()
	err := TranslateError(op(db.WithContext(ctx)))
	if p.observer != nil {
		p.observer.ObserveOperation(observability.OperationContext{
			Component: "postgres",
			Operation: operation,
			Resource:  p.cfg.Connection.DbName,
			Duration:  time.Since(start),
			Error:     err,
		})
	}
	return err
}

// withTx returns a Postgres bound to tx. It shares the observer but owns no
// connection loops.
func (p *Postgres) withTx(tx *gorm.DB) *Postgres {
	clone := &Postgres{
		cfg:             p.cfg,
		logger:          p.logger,
		observer:        p.observer,
		shutdownSignal:  p.shutdownSignal,
		retryChanSignal: p.retryChanSignal,
	}
	clone.client.Store(tx)
	return clone
}
