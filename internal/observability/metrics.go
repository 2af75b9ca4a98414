package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

const metricsNamespace = "atelier"

// Metrics counts ledger operations by outcome on a private registry.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	pins       prometheus.GaugeFunc
}

// NewMetrics registers the operation counter plus process and Go collectors.
// outstandingPINs, when set, is exported as a gauge.
func NewMetrics(outstandingPINs func() int) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "ledger_operations_total",
		Help:      "State-changing ledger operations by outcome.",
	}, []string{"operation", "status"})
	registry.MustRegister(operations)

	metrics := &Metrics{registry: registry, operations: operations}
	if outstandingPINs != nil {
		metrics.pins = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "outstanding_pins",
			Help:      "Issued PIN codes not yet redeemed.",
		}, func() float64 { return float64(outstandingPINs()) })
		registry.MustRegister(metrics.pins)
	}
	return metrics
}

// LogOperation implements ledger.OperationLogger.
func (metrics *Metrics) LogOperation(_ context.Context, entry ledger.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{Registry: metrics.registry})
}

// Registry exposes the underlying registry.
func (metrics *Metrics) Registry() *prometheus.Registry {
	return metrics.registry
}
