package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Failure kinds. A *CallError wraps exactly one of them, so callers can use
// errors.Is(err, rpc.ErrTimeout) and friends.
var (
	// ErrTimeout means no reply arrived within the call's timeout.
	ErrTimeout = errors.New("request timeout")

	// ErrTransport means the broker connection or channel failed while
	// publishing or waiting.
	ErrTransport = errors.New("transport failure")

	// ErrRemote means a reply arrived and carries an "error" field, such as
	// the receiver's error envelope.
	ErrRemote = errors.New("remote error")

	// ErrMalformedResponse means a handler produced a body that is not JSON.
	// Receivers treat it like any other handler failure.
	ErrMalformedResponse = errors.New("malformed response")
)

// Messages used in the uniform {"error": ...} shape.
const (
	TimeoutMessage           = "Request timeout"
	ReceiverExceptionMessage = "Receiver exception"
	EmptyResponseMessage     = "Empty response"
	transportMessagePrefix   = "RabbitMQ call failed: "
)

// CallError is the error returned by Client.Call.
type CallError struct {
	// Kind is one of ErrTimeout, ErrTransport or ErrRemote.
	Kind          error
	Queue         string
	CorrelationID string
	// Message is the text placed in the "error" field of Payload.
	Message string
	// Body is the raw reply when Kind is ErrRemote.
	Body []byte
	// Err is the underlying cause, if any.
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc %s (queue=%s correlation_id=%s): %s", e.Kind, e.Queue, e.CorrelationID, e.Message)
}

// Unwrap exposes both the kind and the cause.
func (e *CallError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Payload renders the error in the shape callers receive over the wire:
// the remote body verbatim for ErrRemote, {"error": Message} otherwise.
func (e *CallError) Payload() []byte {
	if errors.Is(e.Kind, ErrRemote) && len(e.Body) > 0 {
		return e.Body
	}
	return errorBody(e.Message)
}

// ErrorPayload renders any error from Call as {"error": "..."}.
func ErrorPayload(err error) []byte {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Payload()
	}
	return errorBody(err.Error())
}

// Result collapses the return values of Call into the uniform result body:
// the reply on success, the error shape on failure.
func Result(reply *Reply, err error) []byte {
	if err != nil {
		return ErrorPayload(err)
	}
	return reply.Body
}

// ErrorEnvelope is what a receiver sends back when its handler fails.
type ErrorEnvelope struct {
	Error         string `json:"error"`
	Queue         string `json:"queue"`
	ServiceName   string `json:"service_name"`
	CorrelationID string `json:"correlation_id"`
	Exception     string `json:"exception"`
}

func errorBody(msg string) []byte {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

func timeoutError(call *PendingCall, queue string) *CallError {
	return &CallError{
		Kind:          ErrTimeout,
		Queue:         queue,
		CorrelationID: call.CorrelationID,
		Message:       TimeoutMessage,
	}
}

func transportError(call *PendingCall, queue string, cause error) *CallError {
	return &CallError{
		Kind:          ErrTransport,
		Queue:         queue,
		CorrelationID: call.CorrelationID,
		Message:       transportMessagePrefix + cause.Error(),
		Err:           cause,
	}
}

// remoteError reports whether body is an error-shaped reply, and its message.
func remoteError(body []byte) (string, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return EmptyResponseMessage, true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", false
	}
	raw, ok := obj["error"]
	if !ok || string(raw) == "null" {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg, true
	}
	return string(raw), true
}
