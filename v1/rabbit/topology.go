package rabbit

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	deadLetterExchangeSuffix = "_dlx"
	deadLetterQueueSuffix    = "_dlq"

	// ArgDeadLetterExchange and ArgDeadLetterRoutingKey are the queue
	// arguments RabbitMQ reads when a message is rejected without requeue.
	ArgDeadLetterExchange   = "x-dead-letter-exchange"
	ArgDeadLetterRoutingKey = "x-dead-letter-routing-key"
)

// Topology names the durable work queue and its dead-letter pair:
// "<q>", "<q>_dlx" (direct exchange) and "<q>_dlq".
type Topology struct {
	WorkQueue          string
	DeadLetterExchange string
	DeadLetterQueue    string
}

// NewTopology derives the dead-letter names from the work queue.
func NewTopology(workQueue string) Topology {
	return Topology{
		WorkQueue:          workQueue,
		DeadLetterExchange: workQueue + deadLetterExchangeSuffix,
		DeadLetterQueue:    workQueue + deadLetterQueueSuffix,
	}
}

// WorkQueueArgs are the arguments the work queue is declared with. Only
// explicit rejection dead-letters a message: no TTL, no length limit.
func (t Topology) WorkQueueArgs() amqp.Table {
	return amqp.Table{
		ArgDeadLetterExchange:   t.DeadLetterExchange,
		ArgDeadLetterRoutingKey: t.DeadLetterQueue,
	}
}

// Declare creates the dead-letter exchange and queue, binds them, and then
// declares the work queue pointing at them. Every step is idempotent so the
// call can be repeated by each consumer on startup.
//
// The work queue is declared last; nothing can consume it before its
// dead-letter arguments exist.
func (t Topology) Declare(ch Channel) error {
	if t.WorkQueue == "" {
		return fmt.Errorf("%w: empty work queue name", ErrInvalidArgument)
	}

	if err := ch.ExchangeDeclare(
		t.DeadLetterExchange,
		amqp.ExchangeDirect,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.DeadLetterExchange, TranslateError(err))
	}

	if _, err := ch.QueueDeclare(t.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.DeadLetterQueue, TranslateError(err))
	}

	if err := ch.QueueBind(t.DeadLetterQueue, t.DeadLetterQueue, t.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s: %w", t.DeadLetterQueue, t.DeadLetterExchange, TranslateError(err))
	}

	if _, err := ch.QueueDeclare(t.WorkQueue, true, false, false, false, t.WorkQueueArgs()); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.WorkQueue, TranslateError(err))
	}
	return nil
}
