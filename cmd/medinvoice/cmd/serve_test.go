package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/config"
)

func TestServerConfigFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, serveCmd.Flags().Set("port", "9191"))
	require.NoError(t, serveCmd.Flags().Set("rate-limit", "0"))
	require.NoError(t, serveCmd.Flags().Set("shutdown-timeout", "3s"))

	sc := serverConfig(serveCmd, &cfg)
	assert.Equal(t, 9191, sc.Port)
	assert.Zero(t, sc.RateLimit)
	assert.Equal(t, 3*time.Second, sc.ShutdownTimeout)
	assert.Equal(t, cfg.Server.Host, sc.Host)
}

func TestNewServerStack_InMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ModelsDir = t.TempDir()
	cfg.OCR.Backend = "unavailable"
	cfg.Cache.Enabled = true
	cfg.Cache.InMemory = true

	st, err := newServerStack(context.Background(), serveCmd, &cfg, cfg.Server)
	require.NoError(t, err)
	require.NotNil(t, st.proc.cache)
	defer func() { assert.NoError(t, st.close()) }()

	h := st.server.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNewServerStack_BadDatabase(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ModelsDir = t.TempDir()
	cfg.OCR.Backend = "unavailable"
	cfg.Database.DSN = "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := newServerStack(ctx, serveCmd, &cfg, cfg.Server)
	require.ErrorContains(t, err, "failed to open database")
}
