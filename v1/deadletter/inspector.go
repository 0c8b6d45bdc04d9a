// Package deadletter inspects, replays and archives requests that receivers
// rejected into "<queue>_dlq".
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
)

// ObjectStore receives archived entries. *minio.MinioClient satisfies it.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Logger is what the inspector logs through.
type Logger interface {
	InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}

// Inspector works on the dead-letter queue of one work queue at a time.
// Every method uses its own channel.
type Inspector struct {
	opener rabbit.ChannelOpener
	logger Logger
	now    func() time.Time
}

// NewInspector returns an inspector on opener. logger may be nil.
func NewInspector(opener rabbit.ChannelOpener, logger Logger) *Inspector {
	return &Inspector{opener: opener, logger: logger, now: time.Now}
}

// Stats reports the depth of the work queue and its dead-letter queue.
func (i *Inspector) Stats(ctx context.Context, queue string) map[string]rabbit.QueueDepth {
	topo := rabbit.NewTopology(queue)
	return rabbit.Depths(ctx, i.opener, topo.WorkQueue, topo.DeadLetterQueue)
}

// Peek returns up to limit entries without removing them.
func (i *Inspector) Peek(ctx context.Context, queue string, limit int) ([]Entry, error) {
	dlq := rabbit.NewTopology(queue).DeadLetterQueue
	var entries []Entry
	err := i.drain(ctx, dlq, limit, func(ch rabbit.Channel, d amqp.Delivery) (bool, error) {
		entries = append(entries, entryFromDelivery(d, dlq))
		return true, nil
	})
	return entries, err
}

// Replay moves up to limit entries back onto the work queue and returns how
// many were moved. A message is acked only after it was republished.
func (i *Inspector) Replay(ctx context.Context, queue string, limit int) (int, error) {
	topo := rabbit.NewTopology(queue)
	moved := 0
	err := i.drain(ctx, topo.DeadLetterQueue, limit, func(ch rabbit.Channel, d amqp.Delivery) (bool, error) {
		msg := amqp.Publishing{
			Headers:       replayHeaders(d.Headers),
			ContentType:   d.ContentType,
			DeliveryMode:  amqp.Persistent,
			CorrelationId: d.CorrelationId,
			ReplyTo:       d.ReplyTo,
			Timestamp:     i.now().UTC(),
			Body:          d.Body,
		}
		if err := rabbit.Publish(ctx, ch, "", topo.WorkQueue, msg, rabbit.DefaultPublishPolicy); err != nil {
			return true, err
		}
		if err := d.Ack(false); err != nil {
			return false, err
		}
		moved++
		return false, nil
	})
	i.logInfo(ctx, "replayed dead letters", map[string]interface{}{"queue": queue, "count": moved})
	return moved, err
}

// Archive writes up to limit entries to store and removes them from the
// dead-letter queue. An entry is acked only after it was stored.
func (i *Inspector) Archive(ctx context.Context, queue string, store ObjectStore, limit int) (int, error) {
	dlq := rabbit.NewTopology(queue).DeadLetterQueue
	archived := 0
	err := i.drain(ctx, dlq, limit, func(ch rabbit.Channel, d amqp.Delivery) (bool, error) {
		entry := entryFromDelivery(d, dlq)
		data, err := json.Marshal(entry)
		if err != nil {
			return true, fmt.Errorf("encode entry: %w", err)
		}
		key := entry.ObjectKey(dlq, i.now())
		if err := store.Put(ctx, key, data, "application/json"); err != nil {
			return true, fmt.Errorf("archive %s: %w", key, err)
		}
		if err := d.Ack(false); err != nil {
			return false, err
		}
		archived++
		return false, nil
	})
	i.logInfo(ctx, "archived dead letters", map[string]interface{}{"queue": queue, "count": archived})
	return archived, err
}

// drain fetches up to limit messages from queue one by one. When fn asks to
// hold a delivery it stays unacked until drain returns and is then requeued
// in its original order, so a pass never sees the same message twice.
func (i *Inspector) drain(ctx context.Context, queue string, limit int, fn func(ch rabbit.Channel, d amqp.Delivery) (hold bool, err error)) error {
	ch, err := i.opener.OpenChannel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("dead-letter queue %s: %w", queue, rabbit.TranslateError(err))
	}

	var held []amqp.Delivery
	defer func() {
		for n := len(held) - 1; n >= 0; n-- {
			_ = held[n].Nack(false, true)
		}
	}()

	for n := 0; limit <= 0 || n < limit; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, ok, err := ch.Get(queue, false)
		if err != nil {
			return rabbit.TranslateError(err)
		}
		if !ok {
			return nil
		}
		hold, err := fn(ch, d)
		if hold {
			held = append(held, d)
		}
		if err != nil {
			i.logWarn(ctx, "dead letter operation failed", err, map[string]interface{}{
				"queue":          queue,
				"correlation_id": d.CorrelationId,
			})
			return err
		}
	}
	return nil
}

func (i *Inspector) logInfo(ctx context.Context, msg string, fields map[string]interface{}) {
	if i.logger != nil {
		i.logger.InfoWithContext(ctx, msg, nil, fields)
	}
}

func (i *Inspector) logWarn(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	if i.logger != nil {
		i.logger.WarnWithContext(ctx, msg, err, fields)
	}
}
