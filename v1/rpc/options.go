package rpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aleph-Alpha/rpcbridge/v1/metrics"
	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
	"github.com/Aleph-Alpha/rpcbridge/v1/tracer"
)

const instrumentationName = "github.com/Aleph-Alpha/rpcbridge/v1/rpc"

// Logger is the logging surface used by clients and servers. *logger.Logger
// satisfies it.
//
//go:generate mockgen -source=options.go -destination=mock_logger.go -package=rpc
type Logger interface {
	DebugWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}

// LatencyRecorder is the part of the metrics sink a client writes to.
type LatencyRecorder interface {
	RecordLatency(d time.Duration)
	RecordTimeout()
}

var _ LatencyRecorder = (*metrics.Sink)(nil)

// DurationRecorder receives the handling time of every request a server
// processes.
type DurationRecorder interface {
	RecordLatency(d time.Duration)
}

// ReplyCache remembers successful replies by correlation id, so a request
// the broker redelivers after it was already answered is answered again
// without running the handler.
type ReplyCache interface {
	Lookup(ctx context.Context, queue, correlationID string) ([]byte, bool, error)
	Store(ctx context.Context, queue, correlationID string, reply []byte) error
}

// Option configures a Client or a Server. Options that make no sense for
// one side are ignored by it.
type Option func(*options)

type options struct {
	logger     Logger
	events     tasklog.Observer
	operations observability.Observer
	sink       LatencyRecorder
	handling   DurationRecorder
	propagator *tracer.Propagator
	tracer     trace.Tracer
	newID      func() string
	replies    ReplyCache
}

func defaultOptions() options {
	return options{
		logger:     nopLogger{},
		events:     tasklog.Nop{},
		propagator: tracer.NewPropagator(),
		tracer:     otel.GetTracerProvider().Tracer(instrumentationName),
		newID:      uuid.NewString,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.sink == nil {
		o.sink = metrics.NewSink(metrics.DefaultWindow)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEventObserver sets the lifecycle observer. Failures of the observer
// are logged and never affect a call.
func WithEventObserver(ob tasklog.Observer) Option {
	return func(o *options) {
		if ob != nil {
			o.events = ob
		}
	}
}

// WithOperationObserver reports every call or handled request as an
// observability.OperationContext.
func WithOperationObserver(ob observability.Observer) Option {
	return func(o *options) { o.operations = ob }
}

// WithSink sets the latency/timeout recorder of a client. Without it each
// client keeps a private sink.
func WithSink(s LatencyRecorder) Option {
	return func(o *options) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithHandlingRecorder makes a server record how long each request took
// from delivery to acknowledgement.
func WithHandlingRecorder(r DurationRecorder) Option {
	return func(o *options) { o.handling = r }
}

// WithPropagator sets the trace propagator.
func WithPropagator(p *tracer.Propagator) Option {
	return func(o *options) {
		if p != nil {
			o.propagator = p
		}
	}
}

// WithTracerProvider sets where spans are created.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithIDGenerator replaces the correlation id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithReplyCache makes a server answer repeated correlation ids from c.
func WithReplyCache(c ReplyCache) Option {
	return func(o *options) { o.replies = c }
}

func (o options) observe(op observability.OperationContext) {
	if o.operations != nil {
		o.operations.ObserveOperation(op)
	}
}

type nopLogger struct{}

func (nopLogger) DebugWithContext(context.Context, string, error, ...map[string]interface{}) {}
func (nopLogger) InfoWithContext(context.Context, string, error, ...map[string]interface{})  {}
func (nopLogger) WarnWithContext(context.Context, string, error, ...map[string]interface{})  {}
func (nopLogger) ErrorWithContext(context.Context, string, error, ...map[string]interface{}) {}
