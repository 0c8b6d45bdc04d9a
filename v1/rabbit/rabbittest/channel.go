package rabbittest

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
)

// Channel is an in-memory rabbit.Channel.
type Channel struct {
	b *Broker

	closed    bool
	prefetch  int
	nextTag   uint64
	unacked   map[uint64]*pending
	consumers map[string]*consumer
	notify    []chan *amqp.Error
	tagSeq    int
}

type pending struct {
	msg   *message
	queue string
}

var _ rabbit.Channel = (*Channel)(nil)

// ExchangeDeclare creates an exchange or checks an existing one is equivalent.
func (c *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	if ex, ok := c.b.exchanges[name]; ok {
		if ex.kind != kind || ex.durable != durable {
			return c.failLocked(amqp.PreconditionFailed, fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg for exchange '%s'", name))
		}
		return nil
	}
	c.b.exchanges[name] = &exchange{name: name, kind: kind, durable: durable, bindings: map[string][]string{}}
	return nil
}

// QueueDeclare creates a queue or checks an existing one is equivalent.
func (c *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if q, ok := c.b.queues[name]; ok {
		if q.durable != durable || q.autoDelete != autoDelete || q.exclusive != exclusive || !tablesEqual(q.args, args) {
			return amqp.Queue{}, c.failLocked(amqp.PreconditionFailed, fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg for queue '%s'", name))
		}
		return amqp.Queue{Name: name, Messages: len(q.msgs), Consumers: len(q.consumers)}, nil
	}
	c.b.queues[name] = &queue{
		name:       name,
		durable:    durable,
		autoDelete: autoDelete,
		exclusive:  exclusive,
		args:       args,
		consumers:  map[string]*consumer{},
	}
	return amqp.Queue{Name: name}, nil
}

// QueueDeclarePassive reports a queue and closes the channel if it is missing.
func (c *Channel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q, ok := c.b.queues[name]
	if !ok {
		return amqp.Queue{}, c.failLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no queue '%s' in vhost '/'", name))
	}
	return amqp.Queue{Name: name, Messages: len(q.msgs), Consumers: len(q.consumers)}, nil
}

// QueueBind binds a queue to an exchange under key.
func (c *Channel) QueueBind(name, key, exchangeName string, noWait bool, args amqp.Table) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	ex, ok := c.b.exchanges[exchangeName]
	if !ok {
		return c.failLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no exchange '%s' in vhost '/'", exchangeName))
	}
	if _, ok := c.b.queues[name]; !ok {
		return c.failLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no queue '%s' in vhost '/'", name))
	}
	for _, existing := range ex.bindings[key] {
		if existing == name {
			return nil
		}
	}
	ex.bindings[key] = append(ex.bindings[key], name)
	return nil
}

// QueueDelete removes a queue and returns how many ready messages it held.
func (c *Channel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return 0, amqp.ErrClosed
	}
	return c.b.deleteQueueLocked(name), nil
}

// Qos sets the per-channel prefetch count.
func (c *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.prefetch = prefetchCount
	c.b.cond.Broadcast()
	return nil
}

// Consume starts a consumer on queueName.
func (c *Channel) Consume(queueName, consumerTag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := c.b.queues[queueName]
	if !ok {
		return nil, c.failLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no queue '%s' in vhost '/'", queueName))
	}
	if exclusive && len(q.consumers) > 0 {
		return nil, c.failLocked(amqp.AccessRefused, fmt.Sprintf("ACCESS_REFUSED - queue '%s' in exclusive use", queueName))
	}
	if consumerTag == "" {
		c.tagSeq++
		consumerTag = fmt.Sprintf("ctag-%p-%d", c, c.tagSeq)
	}
	if _, dup := c.consumers[consumerTag]; dup {
		return nil, c.failLocked(amqp.NotAllowed, fmt.Sprintf("NOT_ALLOWED - attempt to reuse consumer tag '%s'", consumerTag))
	}

	cons := &consumer{
		tag:     consumerTag,
		ch:      c,
		q:       q,
		autoAck: autoAck,
		out:     make(chan amqp.Delivery),
		done:    make(chan struct{}),
	}
	c.consumers[consumerTag] = cons
	q.consumers[consumerTag] = cons
	q.hadConsumer = true
	go cons.run()
	return cons.out, nil
}

// Cancel stops a consumer; its delivery channel is closed.
func (c *Channel) Cancel(consumerTag string, noWait bool) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	if cons, ok := c.consumers[consumerTag]; ok {
		cons.cancelLocked()
	}
	return nil
}

// Get pulls one message.
func (c *Channel) Get(queueName string, autoAck bool) (amqp.Delivery, bool, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return amqp.Delivery{}, false, amqp.ErrClosed
	}
	q, ok := c.b.queues[queueName]
	if !ok {
		return amqp.Delivery{}, false, c.failLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no queue '%s' in vhost '/'", queueName))
	}
	if len(q.msgs) == 0 {
		return amqp.Delivery{}, false, nil
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	d := c.deliveryLocked(m, queueName, "", autoAck)
	d.MessageCount = uint32(len(q.msgs))
	return d, true, nil
}

// PublishWithContext routes msg through exchangeName.
func (c *Channel) PublishWithContext(ctx context.Context, exchangeName, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	if err := c.b.routeLocked(exchangeName, key, msg, false); err != nil {
		var amqpErr *amqp.Error
		if e, ok := err.(*amqp.Error); ok {
			amqpErr = e
		}
		c.shutdownLocked(amqpErr)
		return err
	}
	return nil
}

// NotifyClose registers a listener for channel closure.
func (c *Channel) NotifyClose(ch chan *amqp.Error) chan *amqp.Error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.notify = append(c.notify, ch)
	return ch
}

// IsClosed reports whether the channel has been closed.
func (c *Channel) IsClosed() bool {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return c.closed
}

// Close cancels consumers and requeues unacknowledged deliveries.
func (c *Channel) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.shutdownLocked(nil)
	return nil
}

func (c *Channel) failLocked(code int, reason string) error {
	err := &amqp.Error{Code: code, Reason: reason, Server: true}
	c.shutdownLocked(err)
	return err
}

func (c *Channel) shutdownLocked(cause *amqp.Error) {
	if c.closed {
		return
	}
	c.closed = true

	for _, cons := range c.consumers {
		cons.cancelLocked()
	}
	for tag, p := range c.unacked {
		if q, ok := c.b.queues[p.queue]; ok {
			p.msg.redelivered = true
			q.msgs = append([]*message{p.msg}, q.msgs...)
		}
		delete(c.unacked, tag)
	}
	for _, n := range c.notify {
		if cause != nil {
			n <- cause
		}
		close(n)
	}
	c.notify = nil
	delete(c.b.channels, c)
	c.b.cond.Broadcast()
}

func (c *Channel) deliveryLocked(m *message, queueName, consumerTag string, autoAck bool) amqp.Delivery {
	c.nextTag++
	tag := c.nextTag
	if !autoAck {
		c.unacked[tag] = &pending{msg: m, queue: queueName}
	}
	pub := clonePublishing(m.pub)
	return amqp.Delivery{
		Acknowledger:    &acknowledger{ch: c},
		Headers:         pub.Headers,
		ContentType:     pub.ContentType,
		ContentEncoding: pub.ContentEncoding,
		DeliveryMode:    pub.DeliveryMode,
		Priority:        pub.Priority,
		CorrelationId:   pub.CorrelationId,
		ReplyTo:         pub.ReplyTo,
		Expiration:      pub.Expiration,
		MessageId:       pub.MessageId,
		Timestamp:       pub.Timestamp,
		Type:            pub.Type,
		UserId:          pub.UserId,
		AppId:           pub.AppId,
		ConsumerTag:     consumerTag,
		DeliveryTag:     tag,
		Redelivered:     m.redelivered,
		Exchange:        m.exchange,
		RoutingKey:      m.key,
		Body:            pub.Body,
	}
}

func (c *Channel) canDeliverLocked() bool {
	return c.prefetch == 0 || len(c.unacked) < c.prefetch
}

func (c *Channel) settleLocked(tag uint64, multiple bool, fn func(p *pending)) error {
	if c.closed {
		return amqp.ErrClosed
	}
	if multiple {
		for t, p := range c.unacked {
			if t <= tag {
				delete(c.unacked, t)
				fn(p)
			}
		}
		c.b.cond.Broadcast()
		return nil
	}
	p, ok := c.unacked[tag]
	if !ok {
		return c.failLocked(amqp.PreconditionFailed, fmt.Sprintf("PRECONDITION_FAILED - unknown delivery tag %d", tag))
	}
	delete(c.unacked, tag)
	fn(p)
	c.b.cond.Broadcast()
	return nil
}

type acknowledger struct {
	ch *Channel
}

func (a *acknowledger) Ack(tag uint64, multiple bool) error {
	a.ch.b.mu.Lock()
	defer a.ch.b.mu.Unlock()
	return a.ch.settleLocked(tag, multiple, func(*pending) {})
}

func (a *acknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.ch.b.mu.Lock()
	defer a.ch.b.mu.Unlock()
	return a.ch.settleLocked(tag, multiple, a.dispose(requeue))
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	a.ch.b.mu.Lock()
	defer a.ch.b.mu.Unlock()
	return a.ch.settleLocked(tag, false, a.dispose(requeue))
}

func (a *acknowledger) dispose(requeue bool) func(p *pending) {
	b := a.ch.b
	return func(p *pending) {
		if requeue {
			if q, ok := b.queues[p.queue]; ok {
				p.msg.redelivered = true
				q.msgs = append([]*message{p.msg}, q.msgs...)
			}
			return
		}
		b.deadLetterLocked(p.queue, p.msg, "rejected")
	}
}
