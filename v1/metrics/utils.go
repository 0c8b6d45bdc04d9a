package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aleph-Alpha/rpcbridge/v1/observability"
)

// ObserveOperation implements observability.Observer.
func (m *Metrics) ObserveOperation(op observability.OperationContext) {
	m.operationsTotal.WithLabelValues(op.Component, op.Operation, op.Resource, op.Status()).Inc()
	m.operationDuration.WithLabelValues(op.Component, op.Operation).Observe(op.Duration.Seconds())
}

// CreateCounter registers and returns a new CounterVec.
func (m *Metrics) CreateCounter(name, help string, labels []string) *prometheus.CounterVec {
	c := createCounterVec(m.namespace, name, help, labels)
	m.registerer.MustRegister(c)
	return c
}

// CreateGauge registers and returns a new GaugeVec.
func (m *Metrics) CreateGauge(name, help string, labels []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: m.namespace, Name: name, Help: help}, labels)
	m.registerer.MustRegister(g)
	return g
}

func createCounterVec(namespace, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func createHistogramVec(namespace, name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}
