package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	enrichTotal    *prometheus.CounterVec
	enrichDuration *prometheus.HistogramVec
	enrichInFlight prometheus.Gauge

	*PipelineMetrics
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	enrichTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "record_enrich_total",
			Help:      "Total enriched records by status.",
		},
		[]string{"service", "status"},
	)
	enrichDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "record_enrich_duration_seconds",
			Help:      "Record enrichment duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	enrichInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "record_enrich_in_flight",
			Help:      "Number of in-flight record enrichment tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(enrichTotal, enrichDuration, enrichInFlight)

	return &WorkerMetrics{
		registry:        registry,
		enrichTotal:     enrichTotal,
		enrichDuration:  enrichDuration,
		enrichInFlight:  enrichInFlight,
		PipelineMetrics: NewPipelineMetrics(registry, service),
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartRecord() {
	m.enrichInFlight.Inc()
}

func (m *WorkerMetrics) FinishRecord(service string, duration time.Duration, err error) {
	m.enrichInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.enrichTotal.WithLabelValues(service, status).Inc()
	m.enrichDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}
