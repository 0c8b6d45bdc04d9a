package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Outcome is the result of handling one request: either Ok with a response
// body and a classification, or Fail with the failure detail.
type Outcome struct {
	response       []byte
	classification string
	err            error
}

// Ok is a successful outcome.
func Ok(response []byte, classification string) Outcome {
	return Outcome{response: response, classification: classification}
}

// Fail is a failed outcome. A nil err is replaced by a generic one.
func Fail(err error) Outcome {
	if err == nil {
		err = errors.New("handler failed")
	}
	return Outcome{err: err}
}

// Failf is Fail with a formatted error.
func Failf(format string, args ...any) Outcome {
	return Fail(fmt.Errorf(format, args...))
}

// IsOk reports whether the outcome is a success.
func (o Outcome) IsOk() bool { return o.err == nil }

// Response is the reply body of a successful outcome.
func (o Outcome) Response() []byte { return o.response }

// Classification is the handler's label for the processed request.
func (o Outcome) Classification() string { return o.classification }

// Err is the failure detail, nil on success.
func (o Outcome) Err() error { return o.err }

// Handler processes the raw body of a request.
type Handler interface {
	Handle(ctx context.Context, body []byte) Outcome
}

// HandlerFunc adapts an ordinary function returning (response,
// classification, error) to Handler.
type HandlerFunc func(ctx context.Context, body []byte) ([]byte, string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, body []byte) Outcome {
	resp, class, err := f(ctx, body)
	if err != nil {
		return Fail(err)
	}
	return Ok(resp, class)
}

// JSONHandler decodes the body into Req and encodes the returned Resp.
func JSONHandler[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, string, error)) Handler {
	return HandlerFunc(func(ctx context.Context, body []byte) ([]byte, string, error) {
		var req Req
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, "", fmt.Errorf("decode request: %w", err)
		}
		resp, class, err := fn(ctx, req)
		if err != nil {
			return nil, class, err
		}
		out, err := json.Marshal(resp)
		if err != nil {
			return nil, class, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return out, class, nil
	})
}

// invoke runs h, turning panics and non-JSON responses into failures.
func invoke(ctx context.Context, h Handler, body []byte) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failf("handler panic: %v", r)
		}
	}()
	out = h.Handle(ctx, body)
	if out.IsOk() && !json.Valid(out.response) {
		return Fail(fmt.Errorf("%w: response is not valid JSON", ErrMalformedResponse))
	}
	return out
}
