package batch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
)

// Processor runs documents through the pipeline.
type Processor interface {
	ProcessBatch(ctx context.Context, docs []*model.Document) []*pipeline.Result
}

// Item pairs a discovered file with its pipeline result.
type Item struct {
	File   string           `json:"file"`
	Result *pipeline.Result `json:"-"`
}

// loadDocuments reads every file into a document. A file that cannot be read
// becomes an empty document, which the pipeline fails with a preprocess
// error, so one unreadable file never aborts the batch.
func loadDocuments(paths []string) []*model.Document {
	docs := make([]*model.Document, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // paths come from discovery
		if err != nil {
			slog.Warn("cannot read file", "file", path, "error", err)
			data = nil
		}
		docs[i] = model.NewDocument(filepath.Base(path), data, nil)
	}
	return docs
}

// processFiles loads and processes files with p, preserving order.
func processFiles(ctx context.Context, p Processor, paths []string) []*Item {
	results := p.ProcessBatch(ctx, loadDocuments(paths))
	items := make([]*Item, len(paths))
	for i, path := range paths {
		items[i] = &Item{File: path, Result: results[i]}
	}
	return items
}

// Failed returns the number of failed documents.
func (r *Result) Failed() int {
	n := 0
	for _, it := range r.Results {
		if it.Result == nil || it.Result.Failure != nil {
			n++
		}
	}
	return n
}

// Verdicts counts completed documents per verdict.
func (r *Result) Verdicts() map[model.Verdict]int {
	out := make(map[model.Verdict]int)
	for _, it := range r.Results {
		if it.Result != nil && it.Result.Record != nil {
			out[it.Result.Record.Verdict]++
		}
	}
	return out
}
