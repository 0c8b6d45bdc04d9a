package rabbit

import (
	"errors"
	"net"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Errors returned by this package, independent of the amqp091 types.
var (
	ErrConnectionFailed     = errors.New("connection failed")
	ErrConnectionLost       = errors.New("connection lost")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrChannelClosed        = errors.New("channel closed")
	ErrAccessDenied         = errors.New("access denied")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotFound             = errors.New("resource not found")
	ErrResourceLocked       = errors.New("resource locked")
	ErrPreconditionFailed   = errors.New("precondition failed")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNoRoute              = errors.New("no route")
	ErrMessageTooLarge      = errors.New("message too large")
	ErrProtocolError        = errors.New("protocol error")
	ErrNotAllowed           = errors.New("not allowed")
	ErrInternalError        = errors.New("internal broker error")
	ErrNetworkError         = errors.New("network error")
	ErrCertificateError     = errors.New("certificate error")
	ErrPublishFailed        = errors.New("publish failed")
	ErrTimeout              = errors.New("timeout")
)

// TranslateError maps amqp091 and network errors onto the sentinels above.
// The original error stays reachable through errors.Unwrap chains of the
// callers that wrap the result with %w; unknown errors are returned as is.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, amqp.ErrClosed) {
		return ErrChannelClosed
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.AccessRefused:
			if strings.Contains(amqpErr.Reason, "ACCESS_REFUSED - Login") {
				return ErrAuthenticationFailed
			}
			return ErrAccessDenied
		case amqp.NotFound:
			return ErrNotFound
		case amqp.ResourceLocked:
			return ErrResourceLocked
		case amqp.PreconditionFailed:
			return ErrPreconditionFailed
		case amqp.NoRoute:
			return ErrNoRoute
		case amqp.ContentTooLarge:
			return ErrMessageTooLarge
		case amqp.ConnectionForced:
			return ErrConnectionLost
		case amqp.ChannelError:
			return ErrChannelClosed
		case amqp.FrameError, amqp.SyntaxError, amqp.CommandInvalid, amqp.UnexpectedFrame:
			return ErrProtocolError
		case amqp.NotAllowed, amqp.InvalidPath:
			return ErrNotAllowed
		case amqp.InternalError, amqp.ResourceError, amqp.NotImplemented:
			return ErrInternalError
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrNetworkError
	}

	reason := strings.ToLower(err.Error())
	switch {
	case strings.Contains(reason, "connection refused"), strings.Contains(reason, "no such host"):
		return ErrConnectionFailed
	case strings.Contains(reason, "connection reset"), strings.Contains(reason, "broken pipe"), strings.Contains(reason, "eof"):
		return ErrConnectionLost
	case strings.Contains(reason, "certificate"), strings.Contains(reason, "x509"):
		return ErrCertificateError
	}
	return err
}

// IsRecoverable reports whether retrying on a fresh channel may succeed.
func IsRecoverable(err error) bool {
	switch {
	case errors.Is(err, ErrChannelClosed),
		errors.Is(err, ErrConnectionLost),
		errors.Is(err, ErrConnectionClosed),
		errors.Is(err, ErrNetworkError),
		errors.Is(err, ErrTimeout):
		return true
	}
	return false
}
