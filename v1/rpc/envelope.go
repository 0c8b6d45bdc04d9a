package rpc

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// UnknownCorrelationID stands in for a request that arrived without one.
const UnknownCorrelationID = "unknown"

// ContentTypeJSON is set on every request and reply.
const ContentTypeJSON = "application/json"

// Envelope is a request or reply as it crosses the broker.
type Envelope struct {
	CorrelationID string
	// ReplyTo is empty when the sender expects no answer.
	ReplyTo string
	Body    []byte
	// Headers may carry traceparent and tracestate.
	Headers map[string]string
}

// EnvelopeFromDelivery reads the routing metadata of d.
func EnvelopeFromDelivery(d amqp.Delivery) Envelope {
	env := Envelope{
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		Body:          d.Body,
		Headers:       make(map[string]string, len(d.Headers)),
	}
	if env.CorrelationID == "" {
		env.CorrelationID = UnknownCorrelationID
	}
	for k, v := range d.Headers {
		switch val := v.(type) {
		case string:
			env.Headers[k] = val
		case []byte:
			env.Headers[k] = string(val)
		default:
			env.Headers[k] = fmt.Sprint(val)
		}
	}
	return env
}

// Publishing builds a persistent JSON message for the envelope.
func (e Envelope) Publishing() amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range e.Headers {
		headers[k] = v
	}
	return amqp.Publishing{
		Headers:       headers,
		ContentType:   ContentTypeJSON,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: e.CorrelationID,
		ReplyTo:       e.ReplyTo,
		Timestamp:     time.Now().UTC(),
		Body:          e.Body,
	}
}
