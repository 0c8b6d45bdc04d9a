package deadletter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Entry is a dead-lettered request as read from a "<queue>_dlq".
type Entry struct {
	CorrelationID string          `json:"correlation_id"`
	ReplyTo       string          `json:"reply_to,omitempty"`
	Body          json.RawMessage `json:"body"`
	// Reason is the broker's reason, "rejected" for receiver failures.
	Reason string `json:"reason"`
	// Count is how often the message has been dead-lettered from OriginalQueue.
	Count          int64     `json:"count"`
	OriginalQueue  string    `json:"original_queue"`
	DeadLetteredAt time.Time `json:"dead_lettered_at,omitempty"`
}

// ObjectKey is where Archive stores the entry.
func (e Entry) ObjectKey(deadLetterQueue string, at time.Time) string {
	id := e.CorrelationID
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("%s/%s-%s.json", deadLetterQueue, at.UTC().Format("20060102T150405.000000000Z"), id)
}

func entryFromDelivery(d amqp.Delivery, deadLetterQueue string) Entry {
	e := Entry{
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		Body:          rawBody(d.Body),
		OriginalQueue: strings.TrimSuffix(deadLetterQueue, "_dlq"),
	}
	if q, ok := d.Headers["x-first-death-queue"].(string); ok {
		e.OriginalQueue = q
	}
	if r, ok := d.Headers["x-first-death-reason"].(string); ok {
		e.Reason = r
	}

	deaths, _ := d.Headers["x-death"].([]interface{})
	for _, raw := range deaths {
		death, ok := raw.(amqp.Table)
		if !ok {
			continue
		}
		if q, _ := death["queue"].(string); q != e.OriginalQueue {
			continue
		}
		if e.Reason == "" {
			e.Reason, _ = death["reason"].(string)
		}
		e.Count = toInt64(death["count"])
		if ts, ok := death["time"].(time.Time); ok {
			e.DeadLetteredAt = ts
		}
		break
	}
	return e
}

func rawBody(b []byte) json.RawMessage {
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

// replayHeaders drops the broker's death bookkeeping.
func replayHeaders(h amqp.Table) amqp.Table {
	out := amqp.Table{}
	for k, v := range h {
		if k == "x-death" || strings.HasPrefix(k, "x-first-death-") || strings.HasPrefix(k, "x-last-death-") {
			continue
		}
		out[k] = v
	}
	return out
}
