package batch

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
	"github.com/MeKo-Tech/medinvoice/internal/testutil"
)

// fakeProcessor fails documents whose name contains "bad" and accepts the
// rest.
type fakeProcessor struct {
	calls atomic.Int64
}

func (f *fakeProcessor) Process(_ context.Context, doc *model.Document) *pipeline.Result {
	f.calls.Add(1)
	res := &pipeline.Result{DocumentID: doc.ID, Name: doc.Name}
	if strings.Contains(doc.Name, "bad") || len(doc.Data) == 0 {
		res.Status = model.StatusFailed
		res.Failure = &model.Failure{Stage: model.StatusPreprocessing, Kind: model.KindPreprocess, Message: "undecodable image"}
		return res
	}
	total := decimal.RequireFromString("42.50")
	res.Status = model.StatusComplete
	res.Record = &model.InvoiceRecord{
		Header:        model.Header{ProviderName: "Dr. Example"},
		LineItems:     []model.LineItem{{Description: "Consultation", Amount: total, Confidence: 0.9}},
		ComputedTotal: total,
		StatedTotal:   &total,
		Category:      "medical",
		Verdict:       model.VerdictAccepted,
		Confidence:    0.9,
	}
	return res
}

func (f *fakeProcessor) ProcessBatch(ctx context.Context, docs []*model.Document) []*pipeline.Result {
	out := make([]*pipeline.Result, len(docs))
	for i, d := range docs {
		out[i] = f.Process(ctx, d)
	}
	return out
}

// writeTree creates files below a temp dir and returns the dir.
func writeTree(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		testutil.WriteFile(t, dir, n, []byte("data"))
	}
	return dir
}

// testPipelineConfig is a pipeline config that builds without external
// tools.
func testPipelineConfig(t *testing.T) pipeline.Config {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = t.TempDir()
	cfg.OCR.Backend = "unavailable"
	cfg.Preprocess.MinDPI = 0
	cfg.Timeout = 10 * time.Second
	return cfg
}
