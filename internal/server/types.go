// Package server exposes the invoice pipeline over HTTP: uploads, stored
// results, a websocket status stream and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MeKo-Tech/medinvoice/internal/cache"
	"github.com/MeKo-Tech/medinvoice/internal/common"
	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
	"github.com/MeKo-Tech/medinvoice/internal/repository"
	"github.com/MeKo-Tech/medinvoice/internal/storage"
)

// processor defines the methods needed by the server from a pipeline.
type processor interface {
	Process(ctx context.Context, doc *model.Document) *pipeline.Result
	Config() pipeline.Config
	Info() map[string]any
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    processor
	cache       *cache.Cache
	repo        repository.InvoiceRepository
	archive     *storage.Archive
	hub         *statusHub
	rateLimiter *RateLimiter
	metrics     *httpMetrics
	registry    *prometheus.Registry

	corsOrigin     string
	maxUploadMB    int64
	timeout        time.Duration
	metricsEnabled bool

	// background submissions outlive their request
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	CORSOrigin     string
	MaxUploadMB    int64
	Timeout        time.Duration
	RateLimit      float64
	RateBurst      int
	MetricsEnabled bool

	// Registry receives the HTTP collectors and backs /metrics. A fresh
	// registry is used when nil.
	Registry *prometheus.Registry
}

// Deps are the server's collaborators. Pipeline is required; Repository
// defaults to an in-memory store; Cache and Archive are optional.
type Deps struct {
	Pipeline   processor
	Cache      *cache.Cache
	Repository repository.InvoiceRepository
	Archive    *storage.Archive
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// InvoiceResponse describes one submitted or stored document.
type InvoiceResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name,omitempty"`
	Status      model.Status         `json:"status"`
	ContentHash string               `json:"content_hash,omitempty"`
	Record      *model.FlatRecord    `json:"record,omitempty"`
	Failure     *model.Failure       `json:"failure,omitempty"`
	Timings     []common.StageTiming `json:"timings,omitempty"`
	CreatedAt   string               `json:"created_at,omitempty"`
}

// ListResponse is a page of stored invoices.
type ListResponse struct {
	Items []InvoiceResponse `json:"items"`
	Total int               `json:"total"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewServer creates a server around an already built pipeline.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("server: pipeline is required")
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	repo := deps.Repository
	if repo == nil {
		repo = repository.NewMemory()
	}
	maxUpload := cfg.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 25
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		pipeline:       deps.Pipeline,
		cache:          deps.Cache,
		repo:           repo,
		archive:        deps.Archive,
		hub:            newStatusHub(),
		metrics:        newHTTPMetrics(reg),
		registry:       reg,
		corsOrigin:     cfg.CORSOrigin,
		maxUploadMB:    maxUpload,
		timeout:        cfg.Timeout,
		metricsEnabled: cfg.MetricsEnabled,
		baseCtx:        ctx,
		cancel:         cancel,
	}
	if cfg.RateLimit > 0 {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return s, nil
}

// Shutdown waits for background submissions to finish. When ctx ends first
// the remaining ones are canceled, and Shutdown returns once they have
// stopped. The pipeline is owned by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Close is Shutdown without a deadline.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("GET /v1/info", s.corsMiddleware(s.infoHandler))
	mux.HandleFunc("POST /v1/invoices", s.corsMiddleware(s.rateLimitMiddleware(s.submitHandler)))
	mux.HandleFunc("OPTIONS /v1/invoices", s.corsMiddleware(s.submitHandler))
	mux.HandleFunc("GET /v1/invoices", s.corsMiddleware(s.listHandler))
	mux.HandleFunc("GET /v1/invoices/{id}", s.corsMiddleware(s.getHandler))
	mux.HandleFunc("GET /v1/ws", s.statusWebSocketHandler)
	if s.metricsEnabled {
		mux.Handle("GET /metrics", s.metricsHandler())
	}
}

// Handler returns the routed, traced HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return withTracing(mux)
}
