package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/ocr"
	"github.com/MeKo-Tech/medinvoice/internal/testutil"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ModelsDir = t.TempDir()
	cfg.Preprocess.MinDPI = 0
	cfg.Preprocess.Denoise = false
	cfg.Preprocess.Deskew.Enabled = false
	cfg.Timeout = 10 * time.Second
	cfg.Parallel.MaxWorkers = 2
	return cfg
}

func invoiceEngine(inv testutil.Invoice) *ocr.StaticEngine {
	return ocr.NewStaticEngine(map[int][]model.Token{0: inv.Tokens()})
}

func newPipeline(t *testing.T, engine ocr.Engine, opts ...func(*Builder)) *Pipeline {
	t.Helper()
	b := NewBuilderFromConfig(testConfig(t)).WithOCREngine(engine)
	for _, o := range opts {
		o(b)
	}
	p, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func invoicePNG(t *testing.T, inv testutil.Invoice) []byte {
	t.Helper()
	return testutil.EncodePNG(t, inv.Render())
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.BlankPage(testutil.PageWidth, testutil.PageHeight))
}

// blockingEngine never answers until released.
type blockingEngine struct {
	release chan struct{}
}

func (b *blockingEngine) Name() string { return "blocking" }

func (b *blockingEngine) Recognize(context.Context, image.Image, int) ([]model.Token, error) {
	<-b.release
	return nil, nil
}

func (b *blockingEngine) Close() error { return nil }

// slowEngine takes delay per page and ignores cancellation.
type slowEngine struct {
	started  chan struct{}
	once     sync.Once
	delay    time.Duration
	finished atomic.Bool
}

func (s *slowEngine) Name() string { return "slow" }

func (s *slowEngine) Recognize(context.Context, image.Image, int) ([]model.Token, error) {
	s.once.Do(func() { close(s.started) })
	time.Sleep(s.delay)
	s.finished.Store(true)
	return nil, nil
}

func (s *slowEngine) Close() error { return nil }

// flakyEngine fails its first call and then delegates.
type flakyEngine struct {
	next    ocr.Engine
	calls   atomic.Int64
	heights []int
}

func (f *flakyEngine) Name() string { return "flaky" }

func (f *flakyEngine) Recognize(ctx context.Context, img image.Image, page int) ([]model.Token, error) {
	f.heights = append(f.heights, img.Bounds().Dy())
	if f.calls.Add(1) == 1 {
		return nil, model.ErrBackendUnavailable
	}
	return f.next.Recognize(ctx, img, page)
}

func (f *flakyEngine) Close() error { return nil }

func TestProcess_CleanInvoiceAccepted(t *testing.T) {
	inv := testutil.CleanInvoice()
	p := newPipeline(t, invoiceEngine(inv))

	res := p.ProcessBytes(context.Background(), "clean.png", invoicePNG(t, inv))
	require.Nil(t, res.Failure, "%v", res.Err())
	require.NotNil(t, res.Record)

	assert.Equal(t, model.StatusComplete, res.Status)
	assert.Equal(t, 1, res.Pages)
	assert.True(t, res.Accepted())
	assert.Equal(t, "pharmacy", res.Record.Category)
	require.NotNil(t, res.Record.StatedTotal)
	assert.True(t, decimal.RequireFromString("120.00").Equal(*res.Record.StatedTotal))
	assert.Len(t, res.Record.LineItems, 2)
	assert.Equal(t, "Sunrise Pharmacy", res.Record.Header.ProviderName)
	assert.NotEmpty(t, res.Timings)
}

func TestProcess_StatusHistoryIsMonotonic(t *testing.T) {
	inv := testutil.CleanInvoice()
	p := newPipeline(t, invoiceEngine(inv))

	doc := model.NewDocument("clean.png", invoicePNG(t, inv), nil)
	res := p.Process(context.Background(), doc)

	want := []model.Status{
		model.StatusReceived,
		model.StatusPreprocessing,
		model.StatusOCR,
		model.StatusExtracting,
		model.StatusValidating,
		model.StatusComplete,
	}
	assert.Equal(t, want, res.History)
	assert.Equal(t, want, doc.History())
	assert.Equal(t, model.StatusComplete, doc.Status())
}

func TestProcess_ArithmeticMismatchNeedsReview(t *testing.T) {
	inv := testutil.CleanInvoice().WithTotal("$121.00")
	p := newPipeline(t, invoiceEngine(inv))

	res := p.ProcessBytes(context.Background(), "mismatch.png", invoicePNG(t, inv))
	require.NotNil(t, res.Record)
	assert.Equal(t, model.StatusComplete, res.Status)
	assert.Equal(t, model.VerdictNeedsReview, res.Record.Verdict)
	assert.True(t, res.Record.HasReason(model.ReasonArithmeticMismatch))
}

func TestProcess_BlankPageRejectedWithoutError(t *testing.T) {
	p := newPipeline(t, invoiceEngine(testutil.CleanInvoice()))

	res := p.ProcessBytes(context.Background(), "blank.png", blankPNG(t))
	require.Nil(t, res.Failure)
	require.NotNil(t, res.Record)
	assert.Equal(t, model.StatusComplete, res.Status)
	assert.Equal(t, model.VerdictRejected, res.Record.Verdict)
	assert.True(t, res.Record.HasReason(model.ReasonNoConfidentFields))
	assert.Empty(t, res.Record.Fields)
}

func TestProcess_BackendUnavailable(t *testing.T) {
	eng := &ocr.UnavailableEngine{}
	p := newPipeline(t, eng)

	res := p.ProcessBytes(context.Background(), "clean.png", invoicePNG(t, testutil.CleanInvoice()))
	require.NotNil(t, res.Failure)
	assert.Nil(t, res.Record)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, model.StatusOCR, res.Failure.Stage)
	assert.Equal(t, model.KindOCR, res.Failure.Kind)
	assert.EqualValues(t, 2, eng.Calls())
	assert.Equal(t, model.StatusFailed, res.History[len(res.History)-1])
}

func TestProcess_RetryUsesDegradedRaster(t *testing.T) {
	inv := testutil.CleanInvoice()
	eng := &flakyEngine{next: invoiceEngine(inv)}
	p := newPipeline(t, eng)

	res := p.ProcessBytes(context.Background(), "clean.png", invoicePNG(t, inv))
	require.Nil(t, res.Failure, "%v", res.Err())
	assert.EqualValues(t, 2, eng.calls.Load())
	require.Len(t, eng.heights, 2)
	assert.Equal(t, testutil.PageHeight, eng.heights[0])
	assert.Equal(t, testutil.PageHeight/2, eng.heights[1])
}

func TestProcess_UndecodableInput(t *testing.T) {
	p := newPipeline(t, invoiceEngine(testutil.CleanInvoice()))

	res := p.ProcessBytes(context.Background(), "junk.bin", []byte("definitely not an image"))
	require.NotNil(t, res.Failure)
	assert.Equal(t, model.StatusPreprocessing, res.Failure.Stage)
	assert.Equal(t, model.KindPreprocess, res.Failure.Kind)

	empty := p.ProcessBytes(context.Background(), "empty", nil)
	require.NotNil(t, empty.Failure)
	assert.Equal(t, model.KindPreprocess, empty.Failure.Kind)
}

func TestProcess_BadPageSpans(t *testing.T) {
	p := newPipeline(t, invoiceEngine(testutil.CleanInvoice()))

	data := invoicePNG(t, testutil.CleanInvoice())
	doc := model.NewDocument("bad.png", data, []model.PageSpan{{Offset: 0, Length: int64(len(data)) + 10}})
	res := p.Process(context.Background(), doc)
	require.NotNil(t, res.Failure)
	assert.Equal(t, model.KindPreprocess, res.Failure.Kind)
}

func TestProcess_DeclaredPages(t *testing.T) {
	inv := testutil.CleanInvoice()
	first := invoicePNG(t, inv)
	second := blankPNG(t)
	data := append(append([]byte{}, first...), second...)
	doc := model.NewDocument("two.png", data, []model.PageSpan{
		{Offset: 0, Length: int64(len(first))},
		{Offset: int64(len(first)), Length: int64(len(second))},
	})

	p := newPipeline(t, invoiceEngine(inv))
	res := p.Process(context.Background(), doc)
	require.Nil(t, res.Failure, "%v", res.Err())
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, model.VerdictAccepted, res.Record.Verdict)
}

func TestProcess_Timeout(t *testing.T) {
	eng := &blockingEngine{release: make(chan struct{})}
	t.Cleanup(func() { close(eng.release) })
	p := newPipeline(t, eng, func(b *Builder) { b.WithTimeout(100 * time.Millisecond) })

	// A tiny raster keeps preprocessing well inside the budget so it runs
	// out during OCR.
	tiny := testutil.EncodePNG(t, testutil.BlankPage(32, 32))
	start := time.Now()
	res := p.ProcessBytes(context.Background(), "slow.png", tiny)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.NotNil(t, res.Failure)
	assert.Nil(t, res.Record)
	assert.Equal(t, model.KindTimeout, res.Failure.Kind)
	assert.Equal(t, model.StatusOCR, res.Failure.Stage)
}

func TestProcess_CancelDuringStageLetsItFinish(t *testing.T) {
	eng := &slowEngine{started: make(chan struct{}), delay: 300 * time.Millisecond}
	p := newPipeline(t, eng)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-eng.started
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	defer cancel()

	res := p.ProcessBytes(ctx, "slow.png", testutil.EncodePNG(t, testutil.BlankPage(32, 32)))
	assert.True(t, eng.finished.Load(), "ocr stage was abandoned")
	require.NotNil(t, res.Failure)
	assert.Equal(t, model.KindCanceled, res.Failure.Kind)
	assert.Equal(t, model.StatusOCR, res.Failure.Stage)
	assert.Equal(t, []model.Status{
		model.StatusReceived,
		model.StatusPreprocessing,
		model.StatusOCR,
		model.StatusFailed,
	}, res.History)
}

func TestProcess_CanceledBeforeStart(t *testing.T) {
	p := newPipeline(t, invoiceEngine(testutil.CleanInvoice()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.ProcessBytes(ctx, "clean.png", invoicePNG(t, testutil.CleanInvoice()))
	require.NotNil(t, res.Failure)
	assert.Equal(t, model.KindCanceled, res.Failure.Kind)
	assert.Equal(t, model.StatusReceived, res.Failure.Stage)
	assert.Equal(t, []model.Status{model.StatusReceived, model.StatusFailed}, res.History)
}

func TestProcess_Idempotent(t *testing.T) {
	inv := testutil.CleanInvoice()
	p := newPipeline(t, invoiceEngine(inv))
	data := invoicePNG(t, inv)

	a := p.ProcessBytes(context.Background(), "a.png", data)
	b := p.ProcessBytes(context.Background(), "a.png", data)
	assert.NotEqual(t, a.DocumentID, b.DocumentID)

	ja, err := a.Marshal()
	require.NoError(t, err)
	jb, err := b.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))
	assert.NotContains(t, string(ja), a.DocumentID)
}

func TestProcess_StaticFixtureFile(t *testing.T) {
	inv := testutil.CleanInvoice()
	fixture := testutil.WriteFile(t, t.TempDir(), "ocr.yaml", inv.FixtureYAML())

	p, err := NewBuilderFromConfig(testConfig(t)).WithStaticFixture(fixture).Build()
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	res := p.ProcessBytes(context.Background(), "clean.png", invoicePNG(t, inv))
	require.NotNil(t, res.Record, "%v", res.Err())
	assert.Equal(t, model.VerdictAccepted, res.Record.Verdict)
}

func TestProcess_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	inv := testutil.CleanInvoice()
	p := newPipeline(t, invoiceEngine(inv), func(b *Builder) { b.WithMetrics(m) })

	p.ProcessBytes(context.Background(), "clean.png", invoicePNG(t, inv))
	p.ProcessBytes(context.Background(), "junk", []byte("junk"))

	assert.InDelta(t, 1, promtest.ToFloat64(m.documentsTotal.WithLabelValues("complete", "accepted")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.failuresTotal.WithLabelValues("preprocessing", "PreprocessError")), 0)
	assert.InDelta(t, 0, promtest.ToFloat64(m.inFlight), 0)
	assert.Positive(t, promtest.CollectAndCount(m.stageDuration))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.started()
		m.observeStage("ocr", time.Second)
		m.finished(&Result{Status: model.StatusComplete}, time.Second)
	})
}

func TestResult_ErrAndOutput(t *testing.T) {
	ok := &Result{Status: model.StatusComplete, Record: &model.InvoiceRecord{Verdict: model.VerdictAccepted}}
	assert.NoError(t, ok.Err())
	assert.True(t, ok.Accepted())
	require.NotNil(t, ok.Output().Record)

	failed := &Result{Status: model.StatusFailed, Failure: &model.Failure{Stage: model.StatusOCR, Kind: model.KindOCR, Message: "down"}}
	var f model.Failure
	require.True(t, errors.As(failed.Err(), &f))
	assert.Equal(t, model.KindOCR, f.Kind)
	assert.False(t, failed.Accepted())
	assert.Nil(t, failed.Output().Record)
}

func TestProcess_StatusObserver(t *testing.T) {
	inv := testutil.CleanInvoice()
	p := newPipeline(t, invoiceEngine(inv))

	var seen []model.Status
	ctx := WithStatusObserver(context.Background(), func(_ string, s model.Status) {
		seen = append(seen, s)
	})
	doc := model.NewDocument("clean.png", invoicePNG(t, inv), nil)
	p.Process(ctx, doc)

	assert.Equal(t, doc.History()[1:], seen)
}

func TestProcess_StatusObserverSeesFailure(t *testing.T) {
	p := newPipeline(t, &ocr.UnavailableEngine{})

	var last model.Status
	var id string
	ctx := WithStatusObserver(context.Background(), func(docID string, s model.Status) {
		id, last = docID, s
	})
	res := p.ProcessBytes(ctx, "clean.png", invoicePNG(t, testutil.CleanInvoice()))
	assert.Equal(t, model.StatusFailed, last)
	assert.Equal(t, res.DocumentID, id)
}

func TestProcess_PreprocessFailureIsNotRetried(t *testing.T) {
	p := newPipeline(t, invoiceEngine(testutil.CleanInvoice()))
	res := p.ProcessBytes(context.Background(), "junk.png", []byte("not an image"))

	require.NotNil(t, res.Failure)
	assert.Equal(t, model.KindPreprocess, res.Failure.Kind)
	runs := 0
	for _, tm := range res.Timings {
		if tm.Stage == "preprocess" {
			runs++
		}
	}
	assert.Equal(t, 1, runs)
}
