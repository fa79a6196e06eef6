package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/medinvoice/internal/config"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
	"github.com/MeKo-Tech/medinvoice/internal/repository"
	"github.com/MeKo-Tech/medinvoice/internal/repository/postgres"
	"github.com/MeKo-Tech/medinvoice/internal/server"
	"github.com/MeKo-Tech/medinvoice/internal/storage"
	"github.com/MeKo-Tech/medinvoice/internal/tracing"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start an HTTP server for invoice submission and retrieval.

The server provides the following endpoints:
  POST /v1/invoices       - Submit a document (multipart "file", optional "pages")
  GET  /v1/invoices       - List stored invoices (?hash= finds by content hash)
  GET  /v1/invoices/{id}  - Fetch one invoice
  GET  /v1/ws?id=...      - Stream status changes of a submitted document
  GET  /v1/info           - Pipeline and cache information
  GET  /health            - Health check
  GET  /metrics           - Prometheus metrics

Postgres persistence and the MinIO upload archive are enabled by setting
database.dsn and storage.endpoint.

Examples:
  medinvoice serve
  medinvoice serve --host 0.0.0.0 --port 3000
  MEDINVOICE_DATABASE_DSN=postgres://... medinvoice serve`,
	RunE: runServe,
}

// serverConfig applies serve flags to the server section of cfg.
func serverConfig(cmd *cobra.Command, cfg *config.Config) config.ServerConfig {
	sc := cfg.Server
	if cmd.Flags().Changed("host") {
		sc.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		sc.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("cors-origin") {
		sc.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
	}
	if cmd.Flags().Changed("max-upload-size") {
		sc.MaxUploadMB, _ = cmd.Flags().GetInt("max-upload-size")
	}
	if cmd.Flags().Changed("request-timeout") {
		sc.TimeoutSec, _ = cmd.Flags().GetInt("request-timeout")
	}
	if cmd.Flags().Changed("shutdown-timeout") {
		sc.ShutdownTimeout, _ = cmd.Flags().GetDuration("shutdown-timeout")
	}
	if cmd.Flags().Changed("rate-limit") {
		sc.RateLimit, _ = cmd.Flags().GetFloat64("rate-limit")
	}
	if cmd.Flags().Changed("rate-burst") {
		sc.RateBurst, _ = cmd.Flags().GetInt("rate-burst")
	}
	if cmd.Flags().Changed("metrics") {
		sc.MetricsEnabled, _ = cmd.Flags().GetBool("metrics")
	}
	return sc
}

// serverStack holds the server and every resource it depends on.
type serverStack struct {
	server  *server.Server
	proc    *cachedProcessor
	closers []func() error
}

// close releases resources in reverse order of acquisition.
func (st *serverStack) close() error {
	var errs []error
	if st.server != nil {
		errs = append(errs, st.server.Close())
	}
	for i := len(st.closers) - 1; i >= 0; i-- {
		errs = append(errs, st.closers[i]())
	}
	return errors.Join(errs...)
}

// newServerStack builds the pipeline, optional cache, repository and archive
// and wires them into a server.
func newServerStack(ctx context.Context, cmd *cobra.Command, cfg *config.Config, sc config.ServerConfig) (*serverStack, error) {
	st := &serverStack{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := pipeline.NewMetrics(reg)

	proc, err := buildProcessor(cmd, cfg, func(b *pipeline.Builder) { b.WithMetrics(metrics) })
	if err != nil {
		return nil, err
	}
	st.proc = proc
	st.closers = append(st.closers, proc.close)

	deps := server.Deps{Pipeline: proc.Pipeline, Cache: proc.cache}

	if cfg.Database.DSN != "" {
		db, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			_ = st.close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		st.closers = append(st.closers, db.Close)
		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				_ = st.close()
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		deps.Repository = postgres.NewInvoicePostgres(db)
		slog.Info("invoice repository", "backend", "postgres")
	} else {
		deps.Repository = repository.NewMemory()
		slog.Info("invoice repository", "backend", "memory")
	}

	if cfg.Storage.Endpoint != "" {
		store, err := storage.NewMinIO(ctx, storage.MinIOConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			_ = st.close()
			return nil, fmt.Errorf("failed to connect upload archive: %w", err)
		}
		deps.Archive = storage.NewArchive(store)
		slog.Info("upload archive enabled", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.Bucket)
	}

	srv, err := server.NewServer(server.Config{
		CORSOrigin:     sc.CORSOrigin,
		MaxUploadMB:    int64(sc.MaxUploadMB),
		Timeout:        time.Duration(sc.TimeoutSec) * time.Second,
		RateLimit:      sc.RateLimit,
		RateBurst:      sc.RateBurst,
		MetricsEnabled: sc.MetricsEnabled,
		Registry:       reg,
	}, deps)
	if err != nil {
		_ = st.close()
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}
	st.server = srv
	return st, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := GetConfig()
	sc := serverConfig(cmd, cfg)
	if sc.Port < 1 || sc.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", sc.Port)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	st, err := newServerStack(ctx, cmd, cfg, sc)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", sc.Host, sc.Port)
	timeout := time.Duration(sc.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           st.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		// Leave room for the response after a full processing budget.
		WriteTimeout: timeout + 5*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting invoice server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			slog.Error("Server error", "error", err)
		}
	}

	shutdownTimeout := durationOr(sc.ShutdownTimeout, 10*time.Second)
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := st.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Background submissions canceled", "error", err)
	}
	if err := st.close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("Tracing shutdown error", "error", err)
	}
	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 25, "maximum upload size in MB")
	serveCmd.Flags().Int("request-timeout", 90, "request timeout in seconds")
	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	serveCmd.Flags().Float64("rate-limit", 10, "requests per second per client (0 disables)")
	serveCmd.Flags().Int("rate-burst", 20, "rate limit burst per client")
	serveCmd.Flags().Bool("metrics", true, "expose /metrics")
	addPipelineFlags(serveCmd)
}
