package rpc

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Caller is satisfied by *Client.
type Caller interface {
	Call(ctx context.Context, queue string, payload []byte, timeout time.Duration) (*Reply, error)
}

// CallOutcome is the outcome of a dispatched call.
type CallOutcome struct {
	Reply *Reply
	Err   error
}

// Payload renders the outcome as the uniform result body.
func (o CallOutcome) Payload() []byte { return Result(o.Reply, o.Err) }

// Dispatcher runs calls in the background with bounded concurrency, so
// that one goroutine can fan out many requests and collect the replies.
type Dispatcher struct {
	caller Caller
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

// NewDispatcher allows at most workers calls in flight.
func NewDispatcher(caller Caller, workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{caller: caller, sem: semaphore.NewWeighted(int64(workers))}
}

// Go starts a call and returns a channel that yields exactly one outcome.
// A call still waiting for a worker when ctx ends fails as a transport
// failure without being published.
func (d *Dispatcher) Go(ctx context.Context, queue string, payload []byte, timeout time.Duration) <-chan CallOutcome {
	out := make(chan CallOutcome, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(out)

		if err := d.sem.Acquire(ctx, 1); err != nil {
			out <- CallOutcome{Err: &CallError{
				Kind:    ErrTransport,
				Queue:   queue,
				Message: transportMessagePrefix + err.Error(),
				Err:     err,
			}}
			return
		}
		defer d.sem.Release(1)

		reply, err := d.caller.Call(ctx, queue, payload, timeout)
		out <- CallOutcome{Reply: reply, Err: err}
	}()
	return out
}

// Wait blocks until every started call has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }
