package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MeKo-Tech/medinvoice/internal/common"
	"github.com/MeKo-Tech/medinvoice/internal/layout"
	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pdf"
	"github.com/MeKo-Tech/medinvoice/internal/preprocess"
)

// pageState carries one page through preprocessing and OCR.
type pageState struct {
	index  int
	raw    []byte
	pre    *preprocess.Result
	height int
	tokens []model.Token
}

// run is the per-document state of one Process call.
type run struct {
	p      *Pipeline
	doc    *model.Document
	caller context.Context
	sw     *common.Stopwatch
	budget time.Duration
	log    *slog.Logger
	notify StatusFunc
}

// ProcessBytes wraps data in a new document and processes it.
func (p *Pipeline) ProcessBytes(ctx context.Context, name string, data []byte) *Result {
	return p.Process(ctx, model.NewDocument(name, data, nil))
}

// Process runs doc through every stage. It never panics on bad input and
// always returns a Result: either a record or a failure descriptor. The
// document's status only moves forward.
func (p *Pipeline) Process(ctx context.Context, doc *model.Document) *Result {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	p.metrics.started()

	ctx, span := p.tracer.Start(ctx, "pipeline.Process",
		trace.WithAttributes(
			attribute.String("document.id", doc.ID),
			attribute.String("document.name", doc.Name),
			attribute.Int("document.bytes", len(doc.Data)),
		))
	defer span.End()

	// Stages only see the budget; caller cancellation is checked at
	// status transitions.
	stageCtx := context.WithoutCancel(ctx)
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(stageCtx, p.cfg.Timeout)
		defer cancel()
	}

	r := &run{
		p:      p,
		doc:    doc,
		caller: ctx,
		sw:     &common.Stopwatch{},
		budget: p.cfg.Timeout,
		log:    slog.With("document", doc.ID, "name", doc.Name),
		notify: statusObserver(ctx),
	}
	res := r.execute(stageCtx)
	res.Timings = r.sw.Timings()
	res.History = doc.History()

	span.SetAttributes(attribute.String("document.status", string(res.Status)))
	if res.Failure != nil {
		span.SetStatus(codes.Error, res.Failure.Message)
	} else if res.Record != nil {
		span.SetAttributes(
			attribute.String("invoice.verdict", string(res.Record.Verdict)),
			attribute.String("invoice.category", res.Record.Category),
		)
	}

	elapsed := time.Since(started)
	p.metrics.finished(res, elapsed)
	if res.Failure != nil {
		r.log.Warn("document failed",
			"stage", res.Failure.Stage,
			"kind", res.Failure.Kind,
			"error", res.Failure.Message,
			"duration", elapsed)
	} else {
		r.log.Info("document processed",
			"verdict", res.Record.Verdict,
			"category", res.Record.Category,
			"fields", len(res.Record.Fields),
			"pages", res.Pages,
			"timings", r.sw.String())
	}
	return res
}

func (r *run) execute(ctx context.Context) *Result {
	doc := r.doc
	res := &Result{DocumentID: doc.ID, Name: doc.Name}

	if err := r.enter(ctx, model.StatusPreprocessing); err != nil {
		return r.fail(res, err)
	}
	pages, err := runStage(ctx, r, "preprocess", r.preprocess)
	if err != nil {
		return r.fail(res, err)
	}
	res.Pages = len(pages)

	if err := r.enter(ctx, model.StatusOCR); err != nil {
		return r.fail(res, err)
	}
	if _, err := runStage(ctx, r, "ocr", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.recognize(ctx, pages)
	}); err != nil {
		return r.fail(res, err)
	}

	if err := r.enter(ctx, model.StatusExtracting); err != nil {
		return r.fail(res, err)
	}
	blocks, err := runStage(ctx, r, "layout", func(context.Context) ([]model.Block, error) {
		return r.layout(pages), nil
	})
	if err != nil {
		return r.fail(res, err)
	}
	var fields []model.ExtractedField
	if len(blocks) > 0 {
		fields, err = runStage(ctx, r, "extract", func(ctx context.Context) ([]model.ExtractedField, error) {
			return r.p.extractor.Extract(ctx, blocks)
		})
		if err != nil {
			return r.fail(res, err)
		}
	} else {
		r.log.Debug("no text found, skipping extraction")
	}

	if err := r.enter(ctx, model.StatusValidating); err != nil {
		return r.fail(res, err)
	}
	record, err := runStage(ctx, r, "validate", func(context.Context) (model.InvoiceRecord, error) {
		return r.p.validator.Validate(fields), nil
	})
	if err != nil {
		return r.fail(res, err)
	}

	if err := r.advance(model.StatusComplete); err != nil {
		return r.fail(res, err)
	}
	res.Status = doc.Status()
	res.Record = &record
	return res
}

// enter moves the document into status unless the caller canceled or the
// budget ran out.
func (r *run) enter(ctx context.Context, status model.Status) error {
	if r.caller.Err() != nil {
		return r.contextError(r.caller)
	}
	if ctx.Err() != nil {
		return r.contextError(ctx)
	}
	return r.advance(status)
}

func (r *run) advance(status model.Status) error {
	if err := r.doc.Advance(status); err != nil {
		return err
	}
	if r.notify != nil {
		r.notify(r.doc.ID, status)
	}
	return nil
}

// fail records err on the document. The failure stage is the status the
// document was in when the error happened.
func (r *run) fail(res *Result, err error) *Result {
	f := model.Failure{
		Stage:   r.doc.Status(),
		Kind:    model.KindOf(err),
		Message: err.Error(),
	}
	if ferr := r.doc.Fail(f); ferr != nil {
		r.log.Error("cannot mark document failed", "error", ferr)
	} else if r.notify != nil {
		r.notify(r.doc.ID, model.StatusFailed)
	}
	res.Status = r.doc.Status()
	res.Failure = r.doc.Failure()
	if res.Failure == nil {
		res.Failure = &f
	}
	return res
}

// contextError converts a finished context into a declared stage error.
func (r *run) contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.TimeoutError{Stage: r.doc.Status(), Budget: r.budget}
	}
	return &model.CanceledError{Stage: r.doc.Status(), Err: err}
}

type stageResult[T any] struct {
	val T
	err error
}

// runStage runs fn in its own goroutine and waits for it or for ctx, which
// ends only when the budget does. A stage that outlives the budget is
// abandoned and its result discarded.
func runStage[T any](ctx context.Context, r *run, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ctx, span := r.p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	stop := r.sw.Start(name)
	done := make(chan stageResult[T], 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- stageResult[T]{err: fmt.Errorf("%s stage panicked: %v", name, rec)}
			}
		}()
		v, err := fn(ctx)
		done <- stageResult[T]{val: v, err: err}
	}()

	select {
	case out := <-done:
		d := stop()
		r.p.metrics.observeStage(name, d)
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
			if ctx.Err() != nil {
				return zero, r.contextError(ctx)
			}
			return zero, out.err
		}
		r.log.Debug("stage done", "stage", name, "duration", d)
		return out.val, nil
	case <-ctx.Done():
		stop()
		err := r.contextError(ctx)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
}

// preprocess splits the document into pages and normalizes each raster.
func (r *run) preprocess(ctx context.Context) ([]*pageState, error) {
	raws, err := r.pageBytes(ctx)
	if err != nil {
		return nil, err
	}
	pages := make([]*pageState, 0, len(raws))
	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pre, err := r.p.pre.Process(raw, i, preprocess.Options{})
		if err != nil {
			return nil, err
		}
		pages = append(pages, &pageState{
			index:  i,
			raw:    raw,
			pre:    pre,
			height: pre.Image.Bounds().Dy(),
		})
	}
	return pages, nil
}

// pageBytes returns the encoded raster of every page. Undeclared PDFs are
// split into their page images.
func (r *run) pageBytes(ctx context.Context) ([][]byte, error) {
	doc := r.doc
	if len(doc.Data) == 0 {
		return nil, &model.PreprocessError{Page: 0, Op: "read", Err: errors.New("empty document")}
	}
	if len(doc.Pages) == 0 && pdf.IsPDF(doc.Data) {
		pages, err := pdf.ExtractPages(ctx, doc.Data, r.p.cfg.PDF)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, &model.PreprocessError{Page: 0, Op: "pdf", Err: err}
		}
		out := make([][]byte, len(pages))
		for i, pg := range pages {
			out[i] = pg.Data
		}
		r.log.Debug("pdf split", "pages", len(out))
		return out, nil
	}
	raws, err := doc.PageBytes()
	if err != nil {
		return nil, &model.PreprocessError{Page: 0, Op: "split", Err: err}
	}
	return raws, nil
}

// recognize runs OCR page by page. A retry re-renders the page degraded.
func (r *run) recognize(ctx context.Context, pages []*pageState) error {
	for _, pg := range pages {
		render := func(degraded bool) (image.Image, error) {
			if !degraded {
				pg.height = pg.pre.Image.Bounds().Dy()
				return pg.pre.Image, nil
			}
			alt, err := r.p.pre.Process(pg.raw, pg.index, preprocess.Options{Degraded: true})
			if err != nil {
				return nil, err
			}
			pg.height = alt.Image.Bounds().Dy()
			return alt.Image, nil
		}
		toks, err := r.p.adapter.Recognize(ctx, pg.index, render)
		if err != nil {
			return err
		}
		pg.tokens = toks
		r.log.Debug("page recognized", "page", pg.index, "tokens", len(toks))
	}
	return nil
}

func (r *run) layout(pages []*pageState) []model.Block {
	in := make([]layout.Page, len(pages))
	for i, pg := range pages {
		in[i] = layout.Page{Index: pg.index, Height: pg.height, Tokens: pg.tokens}
	}
	return r.p.layout.Document(in)
}
