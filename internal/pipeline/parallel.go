package pipeline

import (
	"context"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// ParallelConfig holds configuration for batch processing.
type ParallelConfig struct {
	MaxWorkers       int              // Number of parallel workers (0 = runtime.NumCPU())
	ProgressCallback ProgressCallback // Optional progress reporting
}

// DefaultParallelConfig returns defaults for batch processing.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

type docJob struct {
	index int
	doc   *model.Document
}

type docResult struct {
	index  int
	result *Result
}

// ProcessBatch processes documents with a worker pool and returns results in
// input order. Every document gets a result; once ctx is done the remaining
// ones fail fast with a cancellation failure.
func (p *Pipeline) ProcessBatch(ctx context.Context, docs []*model.Document) []*Result {
	if len(docs) == 0 {
		return nil
	}
	cfg := p.cfg.Parallel
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(docs) {
		workers = len(docs)
	}
	progress := cfg.ProgressCallback
	if progress == nil {
		progress = NoOpProgressCallback{}
	}
	progress.OnStart(len(docs))
	defer progress.OnComplete()

	jobs := make(chan docJob, len(docs))
	results := make(chan docResult, len(docs))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- docResult{index: job.index, result: p.Process(ctx, job.doc)}
			}
		}()
	}

	for i, d := range docs {
		jobs <- docJob{index: i, doc: d}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]*Result, len(docs))
	done := 0
	for r := range results {
		ordered[r.index] = r.result
		done++
		if err := r.result.Err(); err != nil {
			progress.OnError(r.index, err)
		}
		progress.OnProgress(done, len(docs))
	}
	return ordered
}
