package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWindow is the number of latency samples a Sink keeps.
const DefaultWindow = 1000

// Sink keeps the most recent call latencies in a ring buffer and counts
// timeouts. One Sink is created per process and handed to every client.
//
// Percentiles are computed over the retained window only. They are an
// approximation of recent behaviour and reset with the process.
type Sink struct {
	mu      sync.Mutex
	samples []float64
	next    int
	size    int

	timeouts atomic.Uint64
}

// NewSink returns a Sink retaining up to window samples. window <= 0 means
// DefaultWindow.
func NewSink(window int) *Sink {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Sink{samples: make([]float64, window)}
}

// RecordLatency appends one sample, evicting the oldest when full.
func (s *Sink) RecordLatency(d time.Duration) {
	s.mu.Lock()
	s.samples[s.next] = d.Seconds()
	s.next = (s.next + 1) % len(s.samples)
	if s.size < len(s.samples) {
		s.size++
	}
	s.mu.Unlock()
}

// RecordTimeout increments the timeout counter.
func (s *Sink) RecordTimeout() {
	s.timeouts.Add(1)
}

// LatencyStats is the latency part of a Snapshot. Avg, P50 and P95 are nil
// when no sample has been recorded.
type LatencyStats struct {
	Count int      `json:"count"`
	Avg   *float64 `json:"avg"`
	P50   *float64 `json:"p50"`
	P95   *float64 `json:"p95"`
}

// Snapshot is the read model served by /stats.
type Snapshot struct {
	Latency       LatencyStats `json:"latency_seconds"`
	TimeoutsTotal uint64       `json:"timeouts_total"`
}

// Snapshot computes count, average, p50 and p95 over the current window.
func (s *Sink) Snapshot() Snapshot {
	s.mu.Lock()
	window := make([]float64, s.size)
	copy(window, s.samples[:s.size])
	s.mu.Unlock()

	snap := Snapshot{
		Latency:       LatencyStats{Count: len(window)},
		TimeoutsTotal: s.timeouts.Load(),
	}
	if len(window) == 0 {
		return snap
	}

	sort.Float64s(window)
	var sum float64
	for _, v := range window {
		sum += v
	}
	n := len(window)
	avg := round4(sum / float64(n))
	p50 := round4(window[int(0.50*float64(n-1))])
	p95 := round4(window[int(0.95*float64(n-1))])

	snap.Latency.Avg = &avg
	snap.Latency.P50 = &p50
	snap.Latency.P95 = &p95
	return snap
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
