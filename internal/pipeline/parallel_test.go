package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/testutil"
)

type recordingCallback struct {
	mu       sync.Mutex
	started  int
	progress []int
	errs     []int
	done     bool
}

func (r *recordingCallback) OnStart(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = total
}

func (r *recordingCallback) OnProgress(current, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, current)
}

func (r *recordingCallback) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
}

func (r *recordingCallback) OnError(index int, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, index)
}

func batchDocs(t *testing.T) []*model.Document {
	t.Helper()
	inv := testutil.CleanInvoice()
	return []*model.Document{
		model.NewDocument("clean.png", invoicePNG(t, inv), nil),
		model.NewDocument("junk.bin", []byte("junk"), nil),
		model.NewDocument("blank.png", blankPNG(t), nil),
		model.NewDocument("again.png", invoicePNG(t, inv), nil),
	}
}

func TestProcessBatch_OrderedResultsAndProgress(t *testing.T) {
	cb := &recordingCallback{}
	tracker := NewProgressTracker()
	p := newPipeline(t, invoiceEngine(testutil.CleanInvoice()), func(b *Builder) {
		b.WithParallelWorkers(3).WithProgressCallback(NewMultiProgressCallback(cb, tracker, nil))
	})

	docs := batchDocs(t)
	results := p.ProcessBatch(context.Background(), docs)
	require.Len(t, results, len(docs))
	for i, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, docs[i].ID, r.DocumentID)
		assert.Equal(t, docs[i].Name, r.Name)
	}
	assert.True(t, results[0].Accepted())
	assert.Equal(t, model.KindPreprocess, results[1].Failure.Kind)
	assert.Equal(t, model.VerdictRejected, results[2].Record.Verdict)
	assert.True(t, results[3].Accepted())

	assert.Equal(t, 4, cb.started)
	assert.Equal(t, []int{1, 2, 3, 4}, cb.progress)
	assert.Equal(t, []int{1}, cb.errs)
	assert.True(t, cb.done)

	stats := tracker.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 4, stats.Current)
	assert.Equal(t, 1, stats.Failed)
	assert.True(t, stats.Completed)
	assert.InDelta(t, 100.0, stats.PercentComplete(), 1e-9)
}

func TestProcessBatch_CanceledStillAnswersEveryDocument(t *testing.T) {
	p := newPipeline(t, invoiceEngine(testutil.CleanInvoice()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	docs := batchDocs(t)
	results := p.ProcessBatch(ctx, docs)
	require.Len(t, results, len(docs))
	for _, r := range results {
		require.NotNil(t, r.Failure)
		assert.Equal(t, model.KindCanceled, r.Failure.Kind)
	}
}

func TestProcessBatch_Empty(t *testing.T) {
	p := newPipeline(t, invoiceEngine(testutil.CleanInvoice()))
	assert.Nil(t, p.ProcessBatch(context.Background(), nil))
}

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	cb := NewConsoleProgressCallback(&buf, "batch ").WithWidth(10).WithRate(false)
	cb.OnStart(2)
	cb.OnProgress(2, 2)
	cb.OnError(1, errors.New("boom"))
	cb.OnComplete()

	out := buf.String()
	assert.Contains(t, out, "batch 0/2 documents")
	assert.Contains(t, out, "[##########] 2/2")
	assert.Contains(t, out, "document 1 failed: boom")
	assert.Contains(t, out, "done in")
}

func TestLogProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cb := NewLogProgressCallback(logger, slog.LevelInfo).WithInterval(2)
	cb.OnStart(3)
	cb.OnProgress(1, 3)
	cb.OnProgress(2, 3)
	cb.OnProgress(3, 3)
	cb.OnError(0, errors.New("boom"))
	cb.OnComplete()

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "batch progress"))
	assert.Contains(t, out, "batch started")
	assert.Contains(t, out, "batch document failed")
	assert.Contains(t, out, "batch completed")
}

func TestProgressTracker_Idle(t *testing.T) {
	s := NewProgressTracker().Stats()
	assert.Zero(t, s.Total)
	assert.Zero(t, s.PercentComplete())
	assert.Zero(t, s.Elapsed)
}
