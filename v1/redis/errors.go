package redis

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("redis: key not found")

	// ErrClosed is returned when the client is closed.
	ErrClosed = errors.New("redis: client is closed")
)

// TranslateError maps go-redis errors onto the sentinels above.
func TranslateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case errors.Is(err, redis.ErrClosed):
		return ErrClosed
	default:
		return err
	}
}
