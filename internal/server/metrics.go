package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
)

// httpMetrics are the server's Prometheus collectors.
type httpMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	documentsTotal   *prometheus.CounterVec
	documentDuration prometheus.Histogram
	rateLimitHits    prometheus.Counter
	uploadSize       prometheus.Histogram
	wsConnections    prometheus.Gauge
	wsMessagesTotal  *prometheus.CounterVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	f := promauto.With(reg)
	return &httpMetrics{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medinvoice_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medinvoice_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		documentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medinvoice_http_documents_total",
				Help: "Total number of documents submitted over HTTP",
			},
			[]string{"status"},
		),
		documentDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "medinvoice_http_document_duration_seconds",
				Help:    "Document processing duration for HTTP submissions in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 60},
			},
		),
		rateLimitHits: f.NewCounter(
			prometheus.CounterOpts{
				Name: "medinvoice_rate_limit_hits_total",
				Help: "Total number of rate limited requests",
			},
		),
		uploadSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "medinvoice_upload_size_bytes",
				Help:    "Size of uploaded files in bytes",
				Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
			},
		),
		wsConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "medinvoice_websocket_active_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		wsMessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medinvoice_websocket_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction"},
		),
	}
}

func (m *httpMetrics) observeDocument(res *pipeline.Result, d time.Duration) {
	m.documentsTotal.WithLabelValues(string(res.Status)).Inc()
	m.documentDuration.Observe(d.Seconds())
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}
