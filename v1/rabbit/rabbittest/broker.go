// Package rabbittest is an in-memory stand-in for a RabbitMQ broker that
// implements rabbit.ChannelOpener and rabbit.Channel.
//
// It models the parts of AMQP 0-9-1 the bridge depends on: the default
// exchange, direct and fanout exchanges, prefetch, manual acknowledgement,
// requeue of unacknowledged deliveries when a channel closes, auto-delete
// queues, passive declares that close the channel on 404 and dead-lettering
// through x-dead-letter-exchange / x-dead-letter-routing-key on
// reject-without-requeue.
package rabbittest

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
)

// Broker holds all queues and exchanges. The zero value is not usable; use
// NewBroker.
type Broker struct {
	mu   sync.Mutex
	cond *sync.Cond

	queues    map[string]*queue
	exchanges map[string]*exchange
	channels  map[*Channel]struct{}

	openErr error
}

type queue struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
	args       amqp.Table

	msgs        []*message
	consumers   map[string]*consumer
	hadConsumer bool
}

type exchange struct {
	name     string
	kind     string
	durable  bool
	bindings map[string][]string
}

type message struct {
	pub         amqp.Publishing
	exchange    string
	key         string
	redelivered bool
}

// QueueState is a snapshot of one queue.
type QueueState struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Args       amqp.Table
	Ready      int
	Unacked    int
	Consumers  int
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	b := &Broker{
		queues:    map[string]*queue{},
		exchanges: map[string]*exchange{},
		channels:  map[*Channel]struct{}{},
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// OpenChannel implements rabbit.ChannelOpener.
func (b *Broker) OpenChannel() (rabbit.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	ch := &Channel{
		b:         b,
		unacked:   map[uint64]*pending{},
		consumers: map[string]*consumer{},
	}
	b.channels[ch] = struct{}{}
	return ch, nil
}

// SetOpenError makes every OpenChannel fail with err until cleared with nil.
func (b *Broker) SetOpenError(err error) {
	b.mu.Lock()
	b.openErr = err
	b.mu.Unlock()
}

// Disconnect force-closes every open channel as a lost connection would.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.channels {
		ch.shutdownLocked(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker forced connection closure", Server: true})
	}
}

// OpenChannels counts channels that have not been closed.
func (b *Broker) OpenChannels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}

// Queue returns the state of name.
func (b *Broker) Queue(name string) (QueueState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return QueueState{}, false
	}
	return QueueState{
		Name:       q.name,
		Durable:    q.durable,
		AutoDelete: q.autoDelete,
		Exclusive:  q.exclusive,
		Args:       q.args,
		Ready:      len(q.msgs),
		Unacked:    b.unackedLocked(name),
		Consumers:  len(q.consumers),
	}, true
}

// Queues lists queue names.
func (b *Broker) Queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for n := range b.queues {
		names = append(names, n)
	}
	return names
}

// Exchange returns the kind and durability of an exchange.
func (b *Broker) Exchange(name string) (kind string, durable bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[name]
	if !ok {
		return "", false, false
	}
	return ex.kind, ex.durable, true
}

// Messages returns the ready (not yet delivered) messages of a queue.
func (b *Broker) Messages(name string) []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	out := make([]amqp.Publishing, 0, len(q.msgs))
	for _, m := range q.msgs {
		out = append(out, m.pub)
	}
	return out
}

// Publish routes msg as if a client had published it.
func (b *Broker) Publish(exchangeName, key string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routeLocked(exchangeName, key, msg, false)
}

func (b *Broker) routeLocked(exchangeName, key string, pub amqp.Publishing, redelivered bool) error {
	var targets []string
	if exchangeName == "" {
		targets = []string{key}
	} else {
		ex, ok := b.exchanges[exchangeName]
		if !ok {
			return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no exchange '%s' in vhost '/'", exchangeName), Server: true}
		}
		switch ex.kind {
		case amqp.ExchangeFanout:
			for _, qs := range ex.bindings {
				targets = append(targets, qs...)
			}
		default:
			targets = ex.bindings[key]
		}
	}

	for _, name := range targets {
		q, ok := b.queues[name]
		if !ok {
			continue
		}
		q.msgs = append(q.msgs, &message{
			pub:         clonePublishing(pub),
			exchange:    exchangeName,
			key:         key,
			redelivered: redelivered,
		})
	}
	b.cond.Broadcast()
	return nil
}

func (b *Broker) deadLetterLocked(queueName string, m *message, reason string) {
	q, ok := b.queues[queueName]
	if !ok {
		return
	}
	dlx, ok := q.args[rabbit.ArgDeadLetterExchange].(string)
	if !ok {
		return
	}
	key := m.key
	if rk, ok := q.args[rabbit.ArgDeadLetterRoutingKey].(string); ok {
		key = rk
	}

	pub := clonePublishing(m.pub)
	if pub.Headers == nil {
		pub.Headers = amqp.Table{}
	}
	pub.Headers["x-death"] = appendDeath(pub.Headers["x-death"], queueName, reason, m)
	if _, exists := pub.Headers["x-first-death-queue"]; !exists {
		pub.Headers["x-first-death-queue"] = queueName
		pub.Headers["x-first-death-reason"] = reason
		pub.Headers["x-first-death-exchange"] = m.exchange
	}
	// an undeclared dead-letter exchange drops the message, as RabbitMQ does
	_ = b.routeLocked(dlx, key, pub, false)
}

func appendDeath(existing interface{}, queueName, reason string, m *message) []interface{} {
	var deaths []interface{}
	if list, ok := existing.([]interface{}); ok {
		deaths = list
	}
	for i, d := range deaths {
		t, ok := d.(amqp.Table)
		if !ok || t["queue"] != queueName || t["reason"] != reason {
			continue
		}
		updated := amqp.Table{}
		for k, v := range t {
			updated[k] = v
		}
		count, _ := updated["count"].(int64)
		updated["count"] = count + 1
		rest := append([]interface{}{}, deaths[:i]...)
		rest = append(rest, deaths[i+1:]...)
		return append([]interface{}{updated}, rest...)
	}
	entry := amqp.Table{
		"count":        int64(1),
		"reason":       reason,
		"queue":        queueName,
		"exchange":     m.exchange,
		"routing-keys": []interface{}{m.key},
		"time":         time.Now(),
	}
	return append([]interface{}{entry}, deaths...)
}

func (b *Broker) unackedLocked(queueName string) int {
	n := 0
	for ch := range b.channels {
		for _, p := range ch.unacked {
			if p.queue == queueName {
				n++
			}
		}
	}
	return n
}

func (b *Broker) deleteQueueLocked(name string) int {
	q, ok := b.queues[name]
	if !ok {
		return 0
	}
	delete(b.queues, name)
	for _, c := range q.consumers {
		c.cancelLocked()
	}
	for _, ex := range b.exchanges {
		for key, qs := range ex.bindings {
			kept := qs[:0]
			for _, qn := range qs {
				if qn != name {
					kept = append(kept, qn)
				}
			}
			ex.bindings[key] = kept
		}
	}
	b.cond.Broadcast()
	return len(q.msgs)
}

func clonePublishing(p amqp.Publishing) amqp.Publishing {
	out := p
	if p.Headers != nil {
		out.Headers = amqp.Table{}
		for k, v := range p.Headers {
			out.Headers[k] = v
		}
	}
	if p.Body != nil {
		out.Body = append([]byte(nil), p.Body...)
	}
	return out
}

func tablesEqual(a, b amqp.Table) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
