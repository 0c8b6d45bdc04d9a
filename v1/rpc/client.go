package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
	"github.com/Aleph-Alpha/rpcbridge/v1/tracer"
)

const replyQueuePrefix = "reply_"

// Reply is a response matched to its call.
type Reply struct {
	CorrelationID string
	Body          []byte
	// Latency is the time from publishing the request to receiving the reply.
	Latency time.Duration
}

// Client issues request/reply calls. It holds no per-call state, so one
// Client is safe for any number of concurrent calls: each call opens its
// own channel and its own reply queue.
type Client struct {
	opener rabbit.ChannelOpener
	cfg    ClientConfig
	opts   options
}

// NewClient creates a client on top of opener.
func NewClient(opener rabbit.ChannelOpener, cfg ClientConfig, opts ...Option) *Client {
	return &Client{
		opener: opener,
		cfg:    cfg.WithDefaults(),
		opts:   buildOptions(opts),
	}
}

// Config returns the effective configuration.
func (c *Client) Config() ClientConfig { return c.cfg }

// Call publishes payload to queue and waits up to timeout for the matching
// reply. A timeout <= 0 uses the configured default.
//
// On success the reply body is returned as is. A reply whose JSON object has
// an "error" field is returned together with a *CallError of kind ErrRemote.
// When no reply arrives in time the error is of kind ErrTimeout and the
// reply queue is removed so that a late answer is dropped by the broker.
// Broker failures are of kind ErrTransport. Cancelling ctx abandons the call
// as a transport failure, unless ctx expired, which counts as a timeout.
func (c *Client) Call(ctx context.Context, queue string, payload []byte, timeout time.Duration) (*Reply, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	start := time.Now()
	call := newPendingCall(c.opts.newID(), timeout)

	ctx, span := c.opts.tracer.Start(ctx, "rpc.call "+queue,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", queue),
			attribute.String("messaging.message.conversation_id", call.CorrelationID),
		),
	)
	defer span.End()

	reply, err := c.call(ctx, call, queue, payload)

	span.SetAttributes(attribute.String("rpc.call.state", call.State().String()))
	if err != nil {
		tracer.RecordErrorOnSpan(span, err)
	}
	c.opts.observe(observability.OperationContext{
		Component: "rpc",
		Operation: "call",
		Resource:  queue,
		Duration:  time.Since(start),
		Error:     err,
		Size:      int64(len(payload)),
		Metadata:  map[string]string{"correlation_id": call.CorrelationID, "state": call.State().String()},
	})
	return reply, err
}

// CallResult is Call collapsed into the uniform result body.
func (c *Client) CallResult(ctx context.Context, queue string, payload []byte, timeout time.Duration) []byte {
	return Result(c.Call(ctx, queue, payload, timeout))
}

type inflight struct {
	call        *PendingCall
	queue       string
	taskType    string
	replyQueue  string
	consumerTag string
}

func (c *Client) call(ctx context.Context, call *PendingCall, queue string, payload []byte) (*Reply, error) {
	f := &inflight{
		call:        call,
		queue:       queue,
		taskType:    taskTypeOf(payload),
		replyQueue:  replyQueuePrefix + call.CorrelationID,
		consumerTag: "rpc-client-" + call.CorrelationID,
	}

	ch, err := c.opener.OpenChannel()
	if err != nil {
		return nil, c.transportFailure(ctx, f, err)
	}
	defer func() { _ = ch.Close() }()

	// The reply queue and its consumer exist before the request is sent,
	// so even an instant reply has somewhere to land.
	if _, err := ch.QueueDeclare(f.replyQueue, false, true, true, false, nil); err != nil {
		return nil, c.transportFailure(ctx, f, rabbit.TranslateError(err))
	}
	deliveries, err := ch.Consume(f.replyQueue, f.consumerTag, false, true, false, false, nil)
	if err != nil {
		return nil, c.transportFailure(ctx, f, rabbit.TranslateError(err))
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.checkQueue(ctx, queue)
	c.notify(ctx, f, tasklog.StatusStart, tasklog.NoDescription)

	body := payload
	if c.cfg.PayloadTraceContext {
		body = c.opts.propagator.InjectPayload(ctx, payload)
	}
	msg := Envelope{CorrelationID: call.CorrelationID, ReplyTo: f.replyQueue, Body: body}.Publishing()
	c.opts.propagator.InjectHeaders(ctx, msg.Headers)

	if err := rabbit.Publish(ctx, ch, "", queue, msg, c.publishPolicy()); err != nil {
		return nil, c.transportFailure(ctx, f, err)
	}
	// latency and the deadline count from the moment the request is on the broker
	call.IssuedAt = time.Now()
	c.opts.logger.DebugWithContext(ctx, "rpc request published", nil, map[string]interface{}{
		"queue":          queue,
		"correlation_id": call.CorrelationID,
		"timeout":        call.Timeout.String(),
	})

	return c.await(ctx, ch, f, deliveries, closed)
}

// await polls for the reply in slices of PollInterval until the deadline.
func (c *Client) await(ctx context.Context, ch rabbit.Channel, f *inflight, deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error) (*Reply, error) {
	for {
		remaining := time.Until(f.call.Deadline())
		if remaining <= 0 {
			return nil, c.timedOut(ctx, ch, f)
		}
		slice := c.cfg.PollInterval
		if remaining < slice {
			slice = remaining
		}
		timer := time.NewTimer(slice)

		select {
		case d, ok := <-deliveries:
			timer.Stop()
			if !ok {
				return nil, c.transportFailure(ctx, f, rabbit.ErrChannelClosed)
			}
			if d.CorrelationId != f.call.CorrelationID {
				c.opts.logger.WarnWithContext(ctx, "discarding reply with foreign correlation id", nil, map[string]interface{}{
					"queue":          f.queue,
					"correlation_id": f.call.CorrelationID,
					"received":       d.CorrelationId,
				})
				_ = d.Reject(false)
				continue
			}
			if !f.call.settle(Completed) {
				_ = d.Reject(false)
				continue
			}
			return c.completed(ctx, f, d)

		case amqpErr := <-closed:
			timer.Stop()
			var cause error = rabbit.ErrChannelClosed
			if amqpErr != nil {
				cause = rabbit.TranslateError(amqpErr)
			}
			return nil, c.transportFailure(ctx, f, cause)

		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, c.timedOut(ctx, ch, f)
			}
			return nil, c.transportFailure(ctx, f, ctx.Err())

		case <-timer.C:
		}
	}
}

func (c *Client) completed(ctx context.Context, f *inflight, d amqp.Delivery) (*Reply, error) {
	if err := d.Ack(false); err != nil {
		c.opts.logger.WarnWithContext(ctx, "failed to ack reply", err, map[string]interface{}{
			"correlation_id": f.call.CorrelationID,
		})
	}
	latency := time.Since(f.call.IssuedAt)
	c.opts.sink.RecordLatency(latency)
	c.notify(ctx, f, tasklog.StatusEnd, tasklog.NoDescription)

	reply := &Reply{CorrelationID: f.call.CorrelationID, Body: d.Body, Latency: latency}
	if msg, isErr := remoteError(d.Body); isErr {
		return reply, &CallError{
			Kind:          ErrRemote,
			Queue:         f.queue,
			CorrelationID: f.call.CorrelationID,
			Message:       msg,
			Body:          d.Body,
		}
	}
	return reply, nil
}

func (c *Client) timedOut(ctx context.Context, ch rabbit.Channel, f *inflight) error {
	if !f.call.settle(TimedOut) {
		return timeoutError(f.call, f.queue)
	}
	c.opts.sink.RecordTimeout()

	// Without a consumer or a queue, a late reply is dropped by the broker
	// instead of piling up.
	_ = ch.Cancel(f.consumerTag, false)
	if _, err := ch.QueueDelete(f.replyQueue, false, false, false); err != nil {
		c.opts.logger.DebugWithContext(ctx, "failed to delete reply queue", err, map[string]interface{}{
			"reply_queue": f.replyQueue,
		})
	}

	c.notify(ctx, f, tasklog.StatusEnd, "Timeout")
	c.opts.logger.WarnWithContext(ctx, "rpc call timed out", nil, map[string]interface{}{
		"queue":          f.queue,
		"correlation_id": f.call.CorrelationID,
		"timeout":        f.call.Timeout.String(),
	})
	return timeoutError(f.call, f.queue)
}

func (c *Client) transportFailure(ctx context.Context, f *inflight, cause error) error {
	f.call.settle(Errored)
	c.notify(ctx, f, tasklog.StatusEnd, "Exception: "+cause.Error())
	c.opts.logger.ErrorWithContext(ctx, "rpc call failed", cause, map[string]interface{}{
		"queue":          f.queue,
		"correlation_id": f.call.CorrelationID,
	})
	return transportError(f.call, f.queue, cause)
}

// checkQueue warns when the target queue does not exist. The call still
// proceeds and will time out unless a receiver declares the queue.
func (c *Client) checkQueue(ctx context.Context, queue string) {
	exists, err := rabbit.QueueExists(c.opener, queue)
	switch {
	case err != nil:
		c.opts.logger.WarnWithContext(ctx, "target queue check failed", err, map[string]interface{}{"queue": queue})
	case !exists:
		c.opts.logger.WarnWithContext(ctx, "target queue does not exist", nil, map[string]interface{}{"queue": queue})
	}
}

// notify gives the lifecycle observer at most one poll slice, so a slow
// observer cannot push a timed-out call past its deadline by more than that.
func (c *Client) notify(ctx context.Context, f *inflight, status, description string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PollInterval)
	defer cancel()
	tasklog.Notify(ctx, c.opts.events, tasklog.Event{
		CorrelationID: f.call.CorrelationID,
		QueueName:     f.queue,
		ServiceName:   c.cfg.ServiceName,
		Status:        status,
		Description:   description,
		TaskType:      f.taskType,
	}, c.opts.logger)
}

func (c *Client) publishPolicy() rabbit.PublishPolicy {
	p := rabbit.DefaultPublishPolicy
	p.MaxRetries = c.cfg.PublishRetries
	return p
}

// taskTypeOf reads "task_type" from a JSON object payload.
func taskTypeOf(payload []byte) string {
	var v struct {
		TaskType string `json:"task_type"`
	}
	if err := json.Unmarshal(payload, &v); err != nil || v.TaskType == "" {
		return tasklog.DefaultTaskType
	}
	return v.TaskType
}
