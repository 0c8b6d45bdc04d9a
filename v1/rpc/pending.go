package rpc

import (
	"sync/atomic"
	"time"
)

// CallState is the lifecycle state of a PendingCall.
type CallState int32

const (
	Waiting CallState = iota
	Completed
	TimedOut
	Errored
)

func (s CallState) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// PendingCall tracks one in-flight call. It belongs to the Call invocation
// that created it. Only one transition out of Waiting ever succeeds, so a
// call accepts at most one reply.
type PendingCall struct {
	CorrelationID string

	// IssuedAt is restamped once the request is published.
	IssuedAt time.Time
	Timeout  time.Duration

	state atomic.Int32
}

func newPendingCall(correlationID string, timeout time.Duration) *PendingCall {
	return &PendingCall{
		CorrelationID: correlationID,
		IssuedAt:      time.Now(),
		Timeout:       timeout,
	}
}

// State returns the current state.
func (p *PendingCall) State() CallState {
	return CallState(p.state.Load())
}

// Deadline is IssuedAt plus Timeout.
func (p *PendingCall) Deadline() time.Time {
	return p.IssuedAt.Add(p.Timeout)
}

// settle moves the call out of Waiting. It reports false if the call was
// already settled.
func (p *PendingCall) settle(to CallState) bool {
	return p.state.CompareAndSwap(int32(Waiting), int32(to))
}
