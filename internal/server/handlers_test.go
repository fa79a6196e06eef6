package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/cache"
	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/ocr"
	"github.com/MeKo-Tech/medinvoice/internal/repository"
	"github.com/MeKo-Tech/medinvoice/internal/storage"
)

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNewServer_RequiresPipeline(t *testing.T) {
	_, err := NewServer(Config{}, Deps{})
	require.Error(t, err)
}

func TestServer_HealthHandler(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Time)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = serve(s, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_SubmitAndFetch(t *testing.T) {
	repo := repository.NewMemory()
	s := newTestServer(t, Config{}, Deps{Repository: repo})

	w := serve(s, uploadRequest(t, "clean.png", invoicePNG(t), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[InvoiceResponse](t, w)
	assert.Equal(t, model.StatusComplete, resp.Status)
	require.NotNil(t, resp.Record)
	assert.Equal(t, model.VerdictAccepted, resp.Record.Verdict)
	assert.Equal(t, "pharmacy", resp.Record.Category)
	assert.Equal(t, "120.00", resp.Record.Total)
	assert.Len(t, resp.ContentHash, 64)
	assert.NotEmpty(t, resp.Timings)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/v1/invoices/"+resp.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	stored := decode[InvoiceResponse](t, w)
	assert.Equal(t, resp.ID, stored.ID)
	assert.Equal(t, "clean.png", stored.Name)
	assert.Equal(t, resp.Record, stored.Record)
	assert.NotEmpty(t, stored.CreatedAt)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/v1/invoices", nil))
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListResponse](t, w)
	assert.Equal(t, 1, list.Total)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/v1/invoices?hash="+resp.ContentHash, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resp.ID, decode[InvoiceResponse](t, w).ID)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/v1/invoices?hash=nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_GetUnknown(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})
	w := serve(s, httptest.NewRequest(http.MethodGet, "/v1/invoices/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, w).Error)
}

func TestServer_SubmitErrors(t *testing.T) {
	s := newTestServer(t, Config{MaxUploadMB: 1}, Deps{})

	tests := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"missing file", uploadRequest(t, "", nil, map[string]string{"pages": ""}), http.StatusBadRequest, "missing_file"},
		{"empty file", uploadRequest(t, "a.png", []byte{}, nil), http.StatusBadRequest, "empty_file"},
		{"bad pages", uploadRequest(t, "a.png", []byte("x"), map[string]string{"pages": "oops"}), http.StatusBadRequest, "invalid_pages"},
		{"too large", uploadRequest(t, "big.png", make([]byte, 2<<20), nil), http.StatusRequestEntityTooLarge, "file_too_large"},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/v1/invoices", strings.NewReader("x")), http.StatusBadRequest, "invalid_form"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, tt.req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Error)
		})
	}
}

func TestServer_SubmitUndecodable(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})
	w := serve(s, uploadRequest(t, "junk.bin", []byte("junk"), nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[InvoiceResponse](t, w)
	assert.Equal(t, model.StatusFailed, resp.Status)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, model.KindPreprocess, resp.Failure.Kind)
}

func TestServer_SubmitOCRUnavailable(t *testing.T) {
	repo := repository.NewMemory()
	s := newTestServer(t, Config{}, Deps{
		Pipeline:   newTestPipeline(t, &ocr.UnavailableEngine{}),
		Repository: repo,
	})
	w := serve(s, uploadRequest(t, "clean.png", invoicePNG(t), nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	resp := decode[InvoiceResponse](t, w)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, model.KindOCR, resp.Failure.Kind)
	assert.Equal(t, model.StatusOCR, resp.Failure.Stage)

	stored, err := repo.FindByID(t.Context(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
}

func TestServer_ArchiveAndCache(t *testing.T) {
	mem := storage.NewMemory()
	c, err := cache.Open(cache.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	s := newTestServer(t, Config{}, Deps{Archive: storage.NewArchive(mem), Cache: c})
	png := invoicePNG(t)

	first := decode[InvoiceResponse](t, serve(s, uploadRequest(t, "a.png", png, nil)))
	second := decode[InvoiceResponse](t, serve(s, uploadRequest(t, "b.png", png, nil)))
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Record, second.Record)
	assert.Equal(t, 2, mem.Len())
	assert.Equal(t, cache.Stats{Hits: 1, Misses: 1}, c.Stats())

	w := serve(s, httptest.NewRequest(http.MethodGet, "/v1/info", nil))
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[map[string]any](t, w)
	assert.Contains(t, info, "cache")
	assert.Contains(t, info, "fingerprint")
	assert.Contains(t, info, "memory")
}

func TestServer_AsyncSubmit(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})
	w := serve(s, uploadRequest(t, "clean.png", invoicePNG(t), map[string]string{"wait": "false"}))
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[InvoiceResponse](t, w)
	assert.Equal(t, model.StatusReceived, resp.Status)

	require.NoError(t, s.Close())
	w = serve(s, httptest.NewRequest(http.MethodGet, "/v1/invoices/"+resp.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusComplete, decode[InvoiceResponse](t, w).Status)
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t, Config{CORSOrigin: "https://example.org"}, Deps{})
	w := serve(s, httptest.NewRequest(http.MethodOptions, "/v1/invoices", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://example.org", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Config{MetricsEnabled: true}, Deps{})
	serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "medinvoice_http_requests_total")

	off := newTestServer(t, Config{}, Deps{})
	w = serve(off, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFailureStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, failureStatus(model.KindPreprocess))
	assert.Equal(t, http.StatusBadGateway, failureStatus(model.KindOCR))
	assert.Equal(t, http.StatusGatewayTimeout, failureStatus(model.KindTimeout))
	assert.Equal(t, http.StatusServiceUnavailable, failureStatus(model.KindCanceled))
	assert.Equal(t, http.StatusInternalServerError, failureStatus(model.KindExtraction))
}
