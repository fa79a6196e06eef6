package server

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/ocr"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
	"github.com/MeKo-Tech/medinvoice/internal/testutil"
)

// newTestPipeline builds a pipeline whose OCR replays the tokens of inv.
// Denoising is off so the 1px strokes of the test font survive.
func newTestPipeline(t *testing.T, engine ocr.Engine) *pipeline.Pipeline {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = t.TempDir()
	cfg.Preprocess.MinDPI = 0
	cfg.Preprocess.Denoise = false
	cfg.Preprocess.Deskew.Enabled = false
	cfg.Timeout = 10 * time.Second

	p, err := pipeline.NewBuilderFromConfig(cfg).WithOCREngine(engine).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func invoiceEngine() ocr.Engine {
	return ocr.NewStaticEngine(map[int][]model.Token{0: testutil.CleanInvoice().Tokens()})
}

func newTestServer(t *testing.T, cfg Config, deps Deps) *Server {
	t.Helper()
	if deps.Pipeline == nil {
		deps.Pipeline = newTestPipeline(t, invoiceEngine())
	}
	s, err := NewServer(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func invoicePNG(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.CleanInvoice().Render())
}

// uploadRequest builds a multipart POST to /v1/invoices.
func uploadRequest(t *testing.T, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/invoices", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}
