// Package support holds the step definitions of the feature suite.
package support

import (
	"fmt"
	"net/http/httptest"
	"os"
	"time"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/ocr"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
	"github.com/MeKo-Tech/medinvoice/internal/server"
	"github.com/MeKo-Tech/medinvoice/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir string

	// Input
	Invoice  testutil.Invoice
	Input    []byte
	Name     string
	Engine   ocr.Engine
	Pipeline *pipeline.Pipeline

	// Pipeline results
	Results []*pipeline.Result
	Doc     *model.Document

	// HTTP state
	Server       *server.Server
	HTTPServer   *httptest.Server
	LastStatus   int
	LastBody     []byte
	UploadedID   string
	UploadedHash string
}

// NewTestContext creates a scenario context with its own temp dir.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "medinvoice-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{TempDir: dir}, nil
}

// pipelineConfig is the default configuration with settings the synthetic
// pages survive.
func (tc *TestContext) pipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = tc.TempDir
	cfg.Preprocess.MinDPI = 0
	cfg.Preprocess.Denoise = false
	cfg.Preprocess.Deskew.Enabled = false
	cfg.Timeout = 20 * time.Second
	return cfg
}

// ensurePipeline builds the pipeline around the selected engine.
func (tc *TestContext) ensurePipeline() error {
	if tc.Pipeline != nil {
		return nil
	}
	if tc.Engine == nil {
		return fmt.Errorf("no OCR backend selected")
	}
	p, err := pipeline.NewBuilderFromConfig(tc.pipelineConfig()).WithOCREngine(tc.Engine).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	tc.Pipeline = p
	return nil
}

// LastResult returns the most recent pipeline result.
func (tc *TestContext) LastResult() (*pipeline.Result, error) {
	if len(tc.Results) == 0 {
		return nil, fmt.Errorf("no document has been processed")
	}
	return tc.Results[len(tc.Results)-1], nil
}

// Cleanup releases the server, the pipeline and the temp dir.
func (tc *TestContext) Cleanup() error {
	if tc.HTTPServer != nil {
		tc.HTTPServer.Close()
	}
	if tc.Server != nil {
		_ = tc.Server.Close()
	}
	if tc.Pipeline != nil {
		_ = tc.Pipeline.Close()
	}
	return os.RemoveAll(tc.TempDir)
}
