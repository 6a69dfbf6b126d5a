package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records extraction, structuring and persistence outcomes
// and the state of the resilience layer around external calls.
type PipelineMetrics struct {
	service string

	extractionsTotal   *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	structuringTotal   *prometheus.CounterVec
	recordsSavedTotal  *prometheus.CounterVec
	retriesTotal       *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
}

func NewPipelineMetrics(registerer prometheus.Registerer, service string) *PipelineMetrics {
	extractionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ocr",
			Name:      "extractions_total",
			Help:      "Total extraction calls by engine and outcome.",
		},
		[]string{"service", "engine", "status"},
	)
	extractionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ocr",
			Name:      "extraction_duration_seconds",
			Help:      "Extraction call duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"service", "engine"},
	)
	structuringTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "structuring_total",
			Help:      "Total structuring calls by provider and outcome.",
		},
		[]string{"service", "provider", "status"},
	)
	recordsSavedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "saved_total",
			Help:      "Document records handed to persistence, by outcome.",
		},
		[]string{"service", "status"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Retries performed by the resilience executor.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)

	registerer.MustRegister(
		extractionsTotal,
		extractionDuration,
		structuringTotal,
		recordsSavedTotal,
		retriesTotal,
		breakerState,
	)

	return &PipelineMetrics{
		service:            service,
		extractionsTotal:   extractionsTotal,
		extractionDuration: extractionDuration,
		structuringTotal:   structuringTotal,
		recordsSavedTotal:  recordsSavedTotal,
		retriesTotal:       retriesTotal,
		breakerState:       breakerState,
	}
}

func (m *PipelineMetrics) ObserveExtraction(engine string, success bool, duration time.Duration) {
	if engine == "" {
		engine = "unknown"
	}
	m.extractionsTotal.WithLabelValues(m.service, engine, outcome(success)).Inc()
	m.extractionDuration.WithLabelValues(m.service, engine).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveStructuring(provider string, success bool) {
	if provider == "" {
		provider = "unknown"
	}
	m.structuringTotal.WithLabelValues(m.service, provider, outcome(success)).Inc()
}

func (m *PipelineMetrics) ObserveRecordsSaved(count int, err error) {
	if err != nil {
		m.recordsSavedTotal.WithLabelValues(m.service, "error").Add(float64(max(count, 1)))
		return
	}
	m.recordsSavedTotal.WithLabelValues(m.service, "success").Add(float64(count))
}

func (m *PipelineMetrics) RecordRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

// RecordBreakerState takes the gobreaker state name.
func (m *PipelineMetrics) RecordBreakerState(operation, state string) {
	value := 0.0
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
