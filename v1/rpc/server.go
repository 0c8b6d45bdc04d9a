package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
	"github.com/Aleph-Alpha/rpcbridge/v1/tracer"
)

const maxReconnectDelay = 30 * time.Second

// Server consumes one work queue and answers every request on its reply_to
// queue. Each consumer runs on its own channel with prefetch 1 and
// processes one message at a time.
type Server struct {
	opener   rabbit.ChannelOpener
	cfg      ServerConfig
	handler  Handler
	topology rabbit.Topology
	opts     options

	ready     chan struct{}
	readyOnce sync.Once
}

// NewServer creates a receiver for cfg.Queue.
func NewServer(opener rabbit.ChannelOpener, cfg ServerConfig, handler Handler, opts ...Option) *Server {
	cfg = cfg.WithDefaults()
	return &Server{
		opener:   opener,
		cfg:      cfg,
		handler:  handler,
		topology: rabbit.NewTopology(cfg.Queue),
		opts:     buildOptions(opts),
		ready:    make(chan struct{}),
	}
}

// Config returns the effective configuration.
func (s *Server) Config() ServerConfig { return s.cfg }

// Topology returns the queue names the server declares.
func (s *Server) Topology() rabbit.Topology { return s.topology }

// Ready is closed once the first consumer is registered on the broker.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Run keeps cfg.Consumers consumers alive until ctx is cancelled. A consumer
// whose channel or connection fails is restarted with exponential backoff.
// Run returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Consumers; i++ {
		id := i
		g.Go(func() error { return s.keepConsuming(ctx, id) })
	}
	return g.Wait()
}

func (s *Server) keepConsuming(ctx context.Context, id int) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectDelay
	b.MaxInterval = maxReconnectDelay
	b.MaxElapsedTime = 0

	for {
		started, err := s.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			b.Reset()
		}
		wait := b.NextBackOff()
		s.opts.logger.WarnWithContext(ctx, "consumer stopped, restarting", err, map[string]interface{}{
			"queue":    s.cfg.Queue,
			"consumer": id,
			"retry_in": wait.String(),
		})

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Serve runs a single consumer until ctx is cancelled or its channel is
// lost. It returns nil only on cancellation.
func (s *Server) Serve(ctx context.Context) error {
	_, err := s.serve(ctx)
	return err
}

// serve reports whether consumption started before it stopped.
func (s *Server) serve(ctx context.Context) (bool, error) {
	ch, err := s.opener.OpenChannel()
	if err != nil {
		return false, err
	}
	defer func() { _ = ch.Close() }()

	if err := s.topology.Declare(ch); err != nil {
		return false, err
	}
	if err := ch.Qos(Prefetch, 0, false); err != nil {
		return false, fmt.Errorf("set prefetch: %w", rabbit.TranslateError(err))
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	tag := fmt.Sprintf("%s-%s", s.cfg.ServiceName, s.opts.newID())
	deliveries, err := ch.Consume(s.cfg.Queue, tag, false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", s.cfg.Queue, rabbit.TranslateError(err))
	}

	s.readyOnce.Do(func() { close(s.ready) })
	s.opts.logger.InfoWithContext(ctx, "receiver consuming", nil, map[string]interface{}{
		"queue":        s.cfg.Queue,
		"service_name": s.cfg.ServiceName,
		"consumer_tag": tag,
	})

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(tag, false)
			return true, nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return true, rabbit.ErrChannelClosed
			}
			return true, rabbit.TranslateError(amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return true, rabbit.ErrChannelClosed
			}
			// A started request is finished even during shutdown.
			s.handle(context.WithoutCancel(ctx), ch, d)
		}
	}
}

func (s *Server) handle(ctx context.Context, ch rabbit.Channel, d amqp.Delivery) {
	start := time.Now()
	env := EnvelopeFromDelivery(d)

	ctx, _ = s.opts.propagator.Extract(ctx, d.Headers, d.Body)
	ctx, span := s.opts.tracer.Start(ctx, "rpc.receive "+s.cfg.Queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", s.cfg.Queue),
			attribute.String("messaging.message.conversation_id", env.CorrelationID),
		),
	)
	defer span.End()

	s.notify(ctx, env, tasklog.StatusStart, tasklog.NoDescription, tasklog.DefaultTaskType)

	outcome, cached := s.lookup(ctx, env)
	if cached {
		span.SetAttributes(attribute.Bool("rpc.reply_cached", true))
	} else {
		outcome = invoke(ctx, s.handler, env.Body)
	}
	err := outcome.Err()
	if outcome.IsOk() {
		err = s.succeed(ctx, ch, d, env, outcome, !cached)
	} else {
		s.fail(ctx, ch, d, env, err)
	}

	if err != nil {
		tracer.RecordErrorOnSpan(span, err)
	}
	if s.opts.handling != nil {
		s.opts.handling.RecordLatency(time.Since(start))
	}
	s.opts.observe(observability.OperationContext{
		Component: "rpc",
		Operation: "handle",
		Resource:  s.cfg.Queue,
		Duration:  time.Since(start),
		Error:     err,
		Size:      int64(len(d.Body)),
		Metadata:  map[string]string{"correlation_id": env.CorrelationID},
	})
}

// lookup returns a previously sent reply for env's correlation id.
func (s *Server) lookup(ctx context.Context, env Envelope) (Outcome, bool) {
	if s.opts.replies == nil || env.CorrelationID == UnknownCorrelationID {
		return Outcome{}, false
	}
	body, ok, err := s.opts.replies.Lookup(ctx, s.cfg.Queue, env.CorrelationID)
	if err != nil {
		s.opts.logger.WarnWithContext(ctx, "reply cache lookup failed", err, map[string]interface{}{
			"queue":          s.cfg.Queue,
			"correlation_id": env.CorrelationID,
		})
		return Outcome{}, false
	}
	if !ok {
		return Outcome{}, false
	}
	s.opts.logger.InfoWithContext(ctx, "answering redelivered request from reply cache", nil, map[string]interface{}{
		"queue":          s.cfg.Queue,
		"correlation_id": env.CorrelationID,
	})
	return Ok(body, tasklog.DefaultTaskType), true
}

func (s *Server) remember(ctx context.Context, env Envelope, body []byte) {
	if s.opts.replies == nil || env.CorrelationID == UnknownCorrelationID {
		return
	}
	if err := s.opts.replies.Store(ctx, s.cfg.Queue, env.CorrelationID, body); err != nil {
		s.opts.logger.WarnWithContext(ctx, "reply cache store failed", err, map[string]interface{}{
			"queue":          s.cfg.Queue,
			"correlation_id": env.CorrelationID,
		})
	}
}

func (s *Server) succeed(ctx context.Context, ch rabbit.Channel, d amqp.Delivery, env Envelope, outcome Outcome, remember bool) error {
	taskType := outcome.Classification()
	if taskType == "" {
		taskType = tasklog.DefaultTaskType
	}

	if err := s.reply(ctx, ch, env, outcome.Response()); err != nil {
		// The caller cannot get an answer; keep the request for replay.
		_ = d.Reject(false)
		s.notify(ctx, env, tasklog.StatusEnd, "Receiver exception: "+err.Error(), taskType)
		s.opts.logger.ErrorWithContext(ctx, "failed to publish reply", err, map[string]interface{}{
			"queue":          s.cfg.Queue,
			"correlation_id": env.CorrelationID,
			"reply_to":       env.ReplyTo,
		})
		return err
	}
	if remember {
		s.remember(ctx, env, outcome.Response())
	}

	if err := d.Ack(false); err != nil {
		s.opts.logger.ErrorWithContext(ctx, "failed to ack request", err, map[string]interface{}{
			"queue":          s.cfg.Queue,
			"correlation_id": env.CorrelationID,
		})
		return err
	}
	s.notify(ctx, env, tasklog.StatusEnd, tasklog.NoDescription, taskType)
	s.opts.logger.DebugWithContext(ctx, "request handled", nil, map[string]interface{}{
		"queue":          s.cfg.Queue,
		"correlation_id": env.CorrelationID,
		"task_type":      taskType,
	})
	return nil
}

// fail answers with an error envelope and dead-letters the request.
func (s *Server) fail(ctx context.Context, ch rabbit.Channel, d amqp.Delivery, env Envelope, cause error) {
	body, _ := json.Marshal(ErrorEnvelope{
		Error:         ReceiverExceptionMessage,
		Queue:         s.cfg.Queue,
		ServiceName:   s.cfg.ServiceName,
		CorrelationID: env.CorrelationID,
		Exception:     cause.Error(),
	})
	if err := s.reply(ctx, ch, env, body); err != nil {
		s.opts.logger.WarnWithContext(ctx, "failed to publish error envelope", err, map[string]interface{}{
			"correlation_id": env.CorrelationID,
			"reply_to":       env.ReplyTo,
		})
	}
	if err := d.Reject(false); err != nil {
		s.opts.logger.ErrorWithContext(ctx, "failed to reject request", err, map[string]interface{}{
			"correlation_id": env.CorrelationID,
		})
	}

	s.notify(ctx, env, tasklog.StatusEnd, "Receiver exception: "+cause.Error(), tasklog.DefaultTaskType)
	s.opts.logger.ErrorWithContext(ctx, "receiver exception", cause, map[string]interface{}{
		"queue":           s.cfg.Queue,
		"correlation_id":  env.CorrelationID,
		"dead_letter_key": s.topology.DeadLetterQueue,
	})
}

func (s *Server) reply(ctx context.Context, ch rabbit.Channel, env Envelope, body []byte) error {
	if env.ReplyTo == "" {
		s.opts.logger.WarnWithContext(ctx, "request has no reply_to, dropping response", nil, map[string]interface{}{
			"queue":          s.cfg.Queue,
			"correlation_id": env.CorrelationID,
		})
		return nil
	}
	msg := Envelope{CorrelationID: env.CorrelationID, Body: body}.Publishing()
	s.opts.propagator.InjectHeaders(ctx, msg.Headers)

	policy := rabbit.DefaultPublishPolicy
	policy.MaxRetries = s.cfg.PublishRetries
	if err := rabbit.Publish(ctx, ch, "", env.ReplyTo, msg, policy); err != nil {
		return fmt.Errorf("reply to %s: %w", env.ReplyTo, err)
	}
	return nil
}

func (s *Server) notify(ctx context.Context, env Envelope, status, description, taskType string) {
	tasklog.Notify(ctx, s.opts.events, tasklog.Event{
		CorrelationID: env.CorrelationID,
		QueueName:     s.cfg.Queue,
		ServiceName:   s.cfg.ServiceName,
		Status:        status,
		Description:   description,
		TaskType:      taskType,
	}, s.opts.logger)
}
