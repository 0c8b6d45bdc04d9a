package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QueueStatsFunc reports broker queue depths for the /stats endpoint.
// The returned value must be JSON serialisable.
type QueueStatsFunc func(ctx context.Context) any

// SetQueueStats installs the queue depth source used by /stats.
func (m *Metrics) SetQueueStats(fn QueueStatsFunc) {
	m.queueStats = fn
}

// Handler serves /metrics in Prometheus format and /stats as JSON:
//
//	{"rpc": {"latency_seconds": {...}, "timeouts_total": 0},
//	 "handling_seconds": {...}, "queues": {...}}
//
// "rpc" is filled by clients of this process and "handling_seconds" by
// servers, so a receiver reports the latter.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", m.serveStats)
	return mux
}

func (m *Metrics) serveStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"rpc":              m.Sink.Snapshot(),
		"handling_seconds": m.Handling.Snapshot().Latency,
	}
	if m.queueStats != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		body["queues"] = m.queueStats(ctx)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
