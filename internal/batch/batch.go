// Package batch processes many invoice files at once: discovery, a bounded
// worker pool, and json/csv/text reports. It also hosts the inbox watcher.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// ProcessBatch discovers documents among args and processes them with p.
// Failed documents are reported in the result; with ContinueOnError off
// they also make ProcessBatch return ErrFailedDocuments alongside it.
func ProcessBatch(ctx context.Context, p Processor, args []string, config *Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	files, err := discoverFiles(args, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no supported files found")
	}

	start := time.Now()
	items := processFiles(ctx, p, files)
	res := &Result{
		Files:       files,
		Results:     items,
		Duration:    time.Since(start),
		WorkerCount: config.Workers,
	}

	if !config.ContinueOnError && res.Failed() > 0 {
		return res, fmt.Errorf("%w: %d of %d", ErrFailedDocuments, res.Failed(), len(files))
	}
	return res, nil
}

// FormatResults formats the batch results in the given format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatBatchResults(r.Results, format)
}

// SaveResults writes the formatted results to outputFile, or to w when no
// file is given.
func (r *Result) SaveResults(w io.Writer, format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(w, "Results written to %s\n", outputFile)
		}
		return nil
	}
	_, err = fmt.Fprint(w, output)
	return err
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(w io.Writer, quiet bool) {
	if quiet {
		return
	}
	total := len(r.Results)
	verdicts := r.Verdicts()
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total documents: %d\n", total)
	_, _ = fmt.Fprintf(w, "  Accepted: %d\n", verdicts[model.VerdictAccepted])
	_, _ = fmt.Fprintf(w, "  Needs review: %d\n", verdicts[model.VerdictNeedsReview])
	_, _ = fmt.Fprintf(w, "  Rejected: %d\n", verdicts[model.VerdictRejected])
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", r.Failed())
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", r.WorkerCount)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	if total > 0 && r.Duration > 0 {
		_, _ = fmt.Fprintf(w, "  Throughput: %.1f documents/sec\n", float64(total)/r.Duration.Seconds())
	}
}
