// Package metrics exposes Prometheus collectors for the provisioning pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "provision"

// Metrics holds the collectors registered for one server
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	Records         *prometheus.CounterVec
	RenderDuration  prometheus.Histogram
	TemplateLookups *prometheus.CounterVec
	EffectFailures  *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Provisioning requests by outcome and rejecting stage.",
		}, []string{"outcome", "stage"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_total",
			Help:      "Audit record writes by status and result.",
		}, []string{"status", "result"}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent rendering device templates.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		TemplateLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "template_lookups_total",
			Help:      "Successful template lookups by strategy.",
		}, []string{"strategy"}),
		EffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Best-effort side effects that failed, by effect name.",
		}, []string{"effect"}),
	}

	m.registry.MustRegister(
		m.Requests,
		m.Records,
		m.RenderDuration,
		m.TemplateLookups,
		m.EffectFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest counts one finished request. Nil receivers are no-ops
// so callers can run without metrics.
func (m *Metrics) ObserveRequest(outcome, stage string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome, stage).Inc()
}

// ObserveRecord counts one audit write
func (m *Metrics) ObserveRecord(status string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.Records.WithLabelValues(status, result).Inc()
}

// ObserveRender records how long a render took
func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.RenderDuration.Observe(d.Seconds())
}

// ObserveTemplate counts a template hit by strategy
func (m *Metrics) ObserveTemplate(strategy string) {
	if m == nil {
		return
	}
	m.TemplateLookups.WithLabelValues(strategy).Inc()
}

// ObserveEffectFailure counts a failed side effect
func (m *Metrics) ObserveEffectFailure(effect string) {
	if m == nil {
		return
	}
	m.EffectFailures.WithLabelValues(effect).Inc()
}
