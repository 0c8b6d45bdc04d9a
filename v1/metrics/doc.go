// Package metrics holds the RPC latency window (Sink) and the Prometheus
// registry of an rpcbridge process.
//
// The Sink retains the last 1000 call latencies and a timeout counter. Its
// Snapshot reports count, average, p50 and p95 over that window, where the
// percentiles are taken by index into the sorted window
// (sorted[int(q*(n-1))]) and rounded to four decimals. These numbers describe
// recent traffic only and start from zero on every restart.
//
// Metrics also implements observability.Observer so broker operations show
// up as operations_total / operation_duration_seconds, and serves:
//
//	GET /metrics  Prometheus exposition
//	GET /stats    {"rpc": <Snapshot>, "queues": <QueueStatsFunc result>}
package metrics
