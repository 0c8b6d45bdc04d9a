package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"gorm not found", gorm.ErrRecordNotFound, ErrRecordNotFound},
		{"gorm duplicate", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), ErrDuplicateKey},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "task_logs_pkey"}, ErrDuplicateKey},
		{"fk violation", &pgconn.PgError{Code: "23503"}, ErrForeignKey},
		{"not null", &pgconn.PgError{Code: "23502", Message: "null value"}, ErrInvalidData},
		{"serialization", &pgconn.PgError{Code: "40001"}, ErrSerialization},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, ErrConnectionLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TranslateError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	other := errors.New("something else")
	assert.Same(t, other, TranslateError(other))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "08006"}))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("x")))
}

func TestDSNDefaults(t *testing.T) {
	dsn := Connection{Host: "db", User: "u", Password: "p", DbName: "d"}.DSN()
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", dsn)
	assert.False(t, Config{}.Enabled())
}
