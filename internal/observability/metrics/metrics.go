// Package metrics exposes prometheus counters for the billing engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics counts engine activity. All counters are best effort and never
// sit on an error path.
type Metrics struct {
	usageTracked      *prometheus.CounterVec
	usageRejected     *prometheus.CounterVec
	cyclesClosed      prometheus.Counter
	invoicesGenerated prometheus.Counter
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		usageTracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metriq_usage_tracked_total",
			Help: "Tracked usage events by meter kind.",
		}, []string{"meter_kind"}),
		usageRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metriq_usage_rejected_total",
			Help: "Rejected track calls by reason.",
		}, []string{"reason"}),
		cyclesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metriq_cycles_closed_total",
			Help: "Billing cycles closed.",
		}),
		invoicesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metriq_invoices_generated_total",
			Help: "Invoices generated.",
		}),
	}
	reg.MustRegister(m.usageTracked, m.usageRejected, m.cyclesClosed, m.invoicesGenerated)
	return m
}

func (m *Metrics) IncUsageTracked(kind string) {
	if m == nil {
		return
	}
	m.usageTracked.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncUsageRejected(reason string) {
	if m == nil {
		return
	}
	m.usageRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncCycleClosed() {
	if m == nil {
		return
	}
	m.cyclesClosed.Inc()
}

func (m *Metrics) IncInvoiceGenerated() {
	if m == nil {
		return
	}
	m.invoicesGenerated.Inc()
}

// Module provides the prometheus registry and engine metrics.
var Module = fx.Module("observability.metrics",
	fx.Provide(prometheus.NewRegistry),
	fx.Provide(New),
)
