package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkEmptySnapshot(t *testing.T) {
	s := NewSink(0)
	snap := s.Snapshot()

	assert.Equal(t, 0, snap.Latency.Count)
	assert.Nil(t, snap.Latency.Avg)
	assert.Nil(t, snap.Latency.P50)
	assert.Nil(t, snap.Latency.P95)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"latency_seconds":{"count":0,"avg":null,"p50":null,"p95":null},"timeouts_total":0}`, string(raw))
}

func TestSinkPercentilesByIndex(t *testing.T) {
	s := NewSink(0)
	for i := 10; i >= 1; i-- {
		s.RecordLatency(time.Duration(i) * time.Second)
	}

	snap := s.Snapshot()
	require.Equal(t, 10, snap.Latency.Count)
	assert.Equal(t, 5.5, *snap.Latency.Avg)
	// int(0.50*9) = 4 and int(0.95*9) = 8 into [1..10]
	assert.Equal(t, 5.0, *snap.Latency.P50)
	assert.Equal(t, 9.0, *snap.Latency.P95)
}

func TestSinkRoundsToFourDecimals(t *testing.T) {
	s := NewSink(0)
	s.RecordLatency(123456 * time.Microsecond)

	snap := s.Snapshot()
	assert.Equal(t, 0.1235, *snap.Latency.Avg)
	assert.Equal(t, 0.1235, *snap.Latency.P50)
}

func TestSinkWindowIsBounded(t *testing.T) {
	s := NewSink(0)
	for i := 0; i < 1500; i++ {
		s.RecordLatency(time.Millisecond)
	}
	assert.Equal(t, DefaultWindow, s.Snapshot().Latency.Count)

	small := NewSink(3)
	for _, ms := range []int{100, 200, 300, 400} {
		small.RecordLatency(time.Duration(ms) * time.Millisecond)
	}
	snap := small.Snapshot()
	assert.Equal(t, 3, snap.Latency.Count)
	// the 100ms sample has been evicted
	assert.Equal(t, 0.3, *snap.Latency.Avg)
}

func TestSinkCountTracksCalls(t *testing.T) {
	for _, k := range []int{1, 999, 1000, 1001} {
		s := NewSink(0)
		for i := 0; i < k; i++ {
			s.RecordLatency(time.Millisecond)
		}
		assert.Equal(t, min(k, 1000), s.Snapshot().Latency.Count, "k=%d", k)
	}
}

func TestSinkTimeouts(t *testing.T) {
	s := NewSink(0)
	s.RecordTimeout()
	s.RecordTimeout()
	assert.Equal(t, uint64(2), s.Snapshot().TimeoutsTotal)
	assert.Equal(t, 0, s.Snapshot().Latency.Count)
}

func TestSinkConcurrentUse(t *testing.T) {
	s := NewSink(100)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.RecordLatency(time.Duration(i) * time.Microsecond)
				if i%50 == 0 {
					s.RecordTimeout()
					_ = s.Snapshot()
				}
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, 100, snap.Latency.Count)
	assert.Equal(t, uint64(80), snap.TimeoutsTotal)
}
