package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Common database error types that can be used by consumers of this package.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("duplicate key violation")
	ErrForeignKey     = errors.New("foreign key violation")
	ErrInvalidData    = errors.New("invalid data")
	ErrSerialization  = errors.New("serialization failure")
	ErrConnectionLost = errors.New("database connection lost")
	ErrNotConnected   = errors.New("database client is not initialized")
)

// TranslateError converts GORM and driver errors into the sentinels above.
// Unknown errors are returned unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrRecordNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateKey
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrForeignKey
	case errors.Is(err, gorm.ErrInvalidData):
		return ErrInvalidData
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrForeignKey, pgErr.ConstraintName)
		case "23502", "22001", "22P02":
			return fmt.Errorf("%w: %s", ErrInvalidData, pgErr.Message)
		case "40001", "40P01":
			return ErrSerialization
		case "57P01", "57P02", "57P03", "08000", "08003", "08006":
			return ErrConnectionLost
		}
	}
	return err
}

// IsRetryable reports whether repeating the operation may succeed.
func IsRetryable(err error) bool {
	err = TranslateError(err)
	return errors.Is(err, ErrSerialization) || errors.Is(err, ErrConnectionLost)
}
