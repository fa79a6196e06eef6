package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	documentsTotal  *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	documentSeconds prometheus.Histogram
	fieldsExtracted prometheus.Histogram
	inFlight        prometheus.Gauge
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		documentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medinvoice_documents_total",
				Help: "Total number of processed documents",
			},
			[]string{"status", "verdict"},
		),
		failuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medinvoice_document_failures_total",
				Help: "Total number of failed documents",
			},
			[]string{"stage", "kind"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medinvoice_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		documentSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "medinvoice_document_duration_seconds",
				Help:    "End to end document processing duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 60},
			},
		),
		fieldsExtracted: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "medinvoice_fields_extracted",
				Help:    "Number of fields kept per record",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "medinvoice_documents_in_flight",
				Help: "Number of documents currently being processed",
			},
		),
	}
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) finished(res *Result, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.documentSeconds.Observe(d.Seconds())
	verdict := ""
	if res.Record != nil {
		verdict = string(res.Record.Verdict)
		m.fieldsExtracted.Observe(float64(len(res.Record.Fields)))
	}
	m.documentsTotal.WithLabelValues(string(res.Status), verdict).Inc()
	if res.Failure != nil {
		m.failuresTotal.WithLabelValues(string(res.Failure.Stage), string(res.Failure.Kind)).Inc()
	}
}
