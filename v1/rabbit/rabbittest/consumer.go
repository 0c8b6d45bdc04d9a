package rabbittest

import amqp "github.com/rabbitmq/amqp091-go"

type consumer struct {
	tag     string
	ch      *Channel
	q       *queue
	autoAck bool

	out       chan amqp.Delivery
	done      chan struct{}
	cancelled bool
}

// run hands messages to the subscriber one at a time, honouring prefetch.
func (c *consumer) run() {
	b := c.ch.b
	defer close(c.out)

	for {
		b.mu.Lock()
		for !c.cancelled && !c.readyLocked() {
			b.cond.Wait()
		}
		if c.cancelled {
			b.mu.Unlock()
			return
		}
		m := c.q.msgs[0]
		c.q.msgs = c.q.msgs[1:]
		d := c.ch.deliveryLocked(m, c.q.name, c.tag, c.autoAck)
		b.mu.Unlock()

		select {
		case c.out <- d:
		case <-c.done:
			b.mu.Lock()
			// a closing channel may already have requeued it
			if _, tracked := c.ch.unacked[d.DeliveryTag]; tracked || c.autoAck {
				delete(c.ch.unacked, d.DeliveryTag)
				if q, ok := b.queues[c.q.name]; ok {
					q.msgs = append([]*message{m}, q.msgs...)
				}
			}
			b.cond.Broadcast()
			b.mu.Unlock()
			return
		}
	}
}

func (c *consumer) readyLocked() bool {
	return len(c.q.msgs) > 0 && (c.autoAck || c.ch.canDeliverLocked())
}

// cancelLocked detaches the consumer and deletes an auto-delete queue that
// lost its last consumer.
func (c *consumer) cancelLocked() {
	if c.cancelled {
		return
	}
	c.cancelled = true
	close(c.done)
	delete(c.ch.consumers, c.tag)
	delete(c.q.consumers, c.tag)

	b := c.ch.b
	if c.q.autoDelete && c.q.hadConsumer && len(c.q.consumers) == 0 {
		if current, ok := b.queues[c.q.name]; ok && current == c.q {
			b.deleteQueueLocked(c.q.name)
		}
	}
	b.cond.Broadcast()
}
