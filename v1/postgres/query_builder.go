package postgres

import (
	"context"

	"gorm.io/gorm"
)

// Query starts a fluent query on the current connection.
//
// Example:
//
//	var logs []TaskLog
//	err := db.Query(ctx).
//	    Where("queue_name = ?", "data_queue").
//	    Order("created_at DESC").
//	    Limit(10).
//	    Find(&logs)
func (p *Postgres) Query(ctx context.Context) *QueryBuilder {
	db := p.DB()
	if db == nil {
		return &QueryBuilder{err: ErrNotConnected}
	}
	return &QueryBuilder{db: db.WithContext(ctx)}
}

// QueryBuilder wraps the chainable part of *gorm.DB. Terminal methods
// return translated errors.
type QueryBuilder struct {
	db  *gorm.DB
	err error
}

// Where adds a condition. Multiple calls are combined with AND.
func (qb *QueryBuilder) Where(query interface{}, args ...interface{}) *QueryBuilder {
	if qb.err == nil {
		qb.db = qb.db.Where(query, args...)
	}
	return qb
}

// Order sets the ORDER BY clause.
func (qb *QueryBuilder) Order(value interface{}) *QueryBuilder {
	if qb.err == nil {
		qb.db = qb.db.Order(value)
	}
	return qb
}

// Limit caps the number of rows.
func (qb *QueryBuilder) Limit(limit int) *QueryBuilder {
	if qb.err == nil {
		qb.db = qb.db.Limit(limit)
	}
	return qb
}

// Offset skips rows.
func (qb *QueryBuilder) Offset(offset int) *QueryBuilder {
	if qb.err == nil {
		qb.db = qb.db.Offset(offset)
	}
	return qb
}

// Model sets the model for Count and Pluck.
func (qb *QueryBuilder) Model(value interface{}) *QueryBuilder {
	if qb.err == nil {
		qb.db = qb.db.Model(value)
	}
	return qb
}

// Find loads every matching row into dest.
func (qb *QueryBuilder) Find(dest interface{}) error {
	if qb.err != nil {
		return qb.err
	}
	return TranslateError(qb.db.Find(dest).Error)
}

// First loads the first matching row into dest.
func (qb *QueryBuilder) First(dest interface{}) error {
	if qb.err != nil {
		return qb.err
	}
	return TranslateError(qb.db.First(dest).Error)
}

// Count counts matching rows.
func (qb *QueryBuilder) Count(count *int64) error {
	if qb.err != nil {
		return qb.err
	}
	return TranslateError(qb.db.Count(count).Error)
}

// Pluck reads one column of every matching row into dest.
func (qb *QueryBuilder) Pluck(column string, dest interface{}) error {
	if qb.err != nil {
		return qb.err
	}
	return TranslateError(qb.db.Pluck(column, dest).Error)
}
