// Package metrics exposes Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intel"

type Metrics struct {
	analysesTotal       *prometheus.CounterVec
	analysisDuration    *prometheus.HistogramVec
	quotaRejections     *prometheus.CounterVec
	monitorEvents       *prometheus.CounterVec
	activeWatches       prometheus.Gauge
	webhookDeliveries   *prometheus.CounterVec
	rateLimitRejections prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		analysesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyses_total",
				Help:      "Analyses by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		analysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_seconds",
				Help:      "Pipeline duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"type"},
		),
		quotaRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_rejections_total",
				Help:      "Requests rejected by the monthly quota",
			},
			[]string{"tier"},
		),
		monitorEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "monitor_events_total",
				Help:      "Update events emitted by the change monitor",
			},
			[]string{"type"},
		),
		activeWatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_watches",
				Help:      "Running per-alert watches",
			},
		),
		webhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Webhook delivery attempts by final status",
			},
			[]string{"status"},
		),
		rateLimitRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_rejections_total",
				Help:      "Requests rejected by the API rate limiter",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.analysesTotal,
		m.analysisDuration,
		m.quotaRejections,
		m.monitorEvents,
		m.activeWatches,
		m.webhookDeliveries,
		m.rateLimitRejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// All recorders are nil-safe so components can run without metrics.

func (m *Metrics) ObserveAnalysis(tier, outcome, analysisType string, d time.Duration) {
	if m == nil {
		return
	}
	m.analysesTotal.WithLabelValues(tier, outcome).Inc()
	m.analysisDuration.WithLabelValues(analysisType).Observe(d.Seconds())
}

func (m *Metrics) QuotaRejected(tier string) {
	if m == nil {
		return
	}
	m.quotaRejections.WithLabelValues(tier).Inc()
}

func (m *Metrics) MonitorEvent(eventType string) {
	if m == nil {
		return
	}
	m.monitorEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) WatchStarted() {
	if m == nil {
		return
	}
	m.activeWatches.Inc()
}

func (m *Metrics) WatchStopped() {
	if m == nil {
		return
	}
	m.activeWatches.Dec()
}

func (m *Metrics) WebhookDelivery(status string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(status).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimitRejections.Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
