package rabbit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishPolicy bounds publish retries.
type PublishPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64

	// InitialInterval and MaxInterval shape the exponential backoff.
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPublishPolicy retries three times starting at 100ms.
var DefaultPublishPolicy = PublishPolicy{
	MaxRetries:      3,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     time.Second,
}

// Publish sends msg to the given exchange/routing key on ch, retrying
// transient failures. A closed channel cannot recover and is returned
// immediately wrapped in ErrPublishFailed.
func Publish(ctx context.Context, ch Channel, exchange, key string, msg amqp.Publishing, policy PublishPolicy) error {
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	op := func() error {
		err := ch.PublishWithContext(ctx, exchange, key, false, false, msg)
		if err == nil {
			return nil
		}
		translated := TranslateError(err)
		if ch.IsClosed() || errors.Is(translated, ErrChannelClosed) {
			return backoff.Permanent(translated)
		}
		return translated
	}

	policyBackoff := backoff.WithContext(backoff.WithMaxRetries(b, policy.MaxRetries), ctx)
	if err := backoff.Retry(op, policyBackoff); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
