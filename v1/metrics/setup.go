package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics owns an isolated Prometheus registry, the process Sink and the
// HTTP server that exposes both.
type Metrics struct {
	// Server serves /metrics and /stats.
	Server *http.Server

	// Registry holds every collector of this process.
	Registry *prometheus.Registry

	// Sink is the latency/timeout window shared by RPC clients.
	Sink *Sink

	// Handling is the window of request handling times recorded by RPC
	// servers. Its timeout counter stays at zero.
	Handling *Sink

	registerer prometheus.Registerer
	namespace  string

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	queueStats QueueStatsFunc
}

// NewMetrics creates the registry, registers the Sink-backed collectors and
// the operation collectors, and prepares (but does not start) the server.
func NewMetrics(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()

	var registerer prometheus.Registerer = registry
	if cfg.ServiceName != "" {
		registerer = prometheus.WrapRegistererWith(prometheus.Labels{"service": cfg.ServiceName}, registry)
	}

	m := &Metrics{
		Registry:   registry,
		Sink:       NewSink(cfg.Window),
		Handling:   NewSink(cfg.Window),
		registerer: registerer,
		namespace:  cfg.Namespace,
	}

	m.operationsTotal = createCounterVec(cfg.Namespace, "operations_total",
		"Broker and storage operations by outcome", []string{"component", "operation", "resource", "status"})
	m.operationDuration = createHistogramVec(cfg.Namespace, "operation_duration_seconds",
		"Duration of broker and storage operations", []string{"component", "operation"}, prometheus.DefBuckets)

	registerer.MustRegister(m.operationsTotal, m.operationDuration)
	registerer.MustRegister(newSinkCollectors(cfg.Namespace, m.Sink)...)
	registerer.MustRegister(newHandlingCollectors(cfg.Namespace, m.Handling)...)

	if cfg.EnableDefaultCollectors {
		registerer.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}

	addr := cfg.Address
	if addr == "" {
		addr = DefaultMetricsAddress
	}
	m.Server = &http.Server{Addr: addr, Handler: m.Handler()}
	return m
}

func pick(sink *Sink, f func(LatencyStats) *float64) func() float64 {
	return func() float64 {
		if v := f(sink.Snapshot().Latency); v != nil {
			return *v
		}
		return 0
	}
}

// newSinkCollectors exposes the Sink snapshot as scrape-time gauges.
func newSinkCollectors(namespace string, sink *Sink) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rpc_latency_count",
			Help: "Number of latency samples in the current window",
		}, func() float64 { return float64(sink.Snapshot().Latency.Count) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rpc_latency_avg_seconds",
			Help: "Average RPC latency over the current window",
		}, pick(sink, func(l LatencyStats) *float64 { return l.Avg })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rpc_latency_p50_seconds",
			Help: "Approximate median RPC latency over the current window",
		}, pick(sink, func(l LatencyStats) *float64 { return l.P50 })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rpc_latency_p95_seconds",
			Help: "Approximate 95th percentile RPC latency over the current window",
		}, pick(sink, func(l LatencyStats) *float64 { return l.P95 })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "rpc_timeouts_total",
			Help: "RPC calls that received no reply in time",
		}, func() float64 { return float64(sink.Snapshot().TimeoutsTotal) }),
	}
}

func newHandlingCollectors(namespace string, sink *Sink) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rpc_handling_count",
			Help: "Number of handled requests in the current window",
		}, func() float64 { return float64(sink.Snapshot().Latency.Count) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rpc_handling_avg_seconds",
			Help: "Average request handling time over the current window",
		}, pick(sink, func(l LatencyStats) *float64 { return l.Avg })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rpc_handling_p95_seconds",
			Help: "Approximate 95th percentile request handling time over the current window",
		}, pick(sink, func(l LatencyStats) *float64 { return l.P95 })),
	}
}
