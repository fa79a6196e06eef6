package batch

import (
	"log/slog"

	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
)

// BuildPipeline creates a pipeline from cfg with the batch worker count and
// progress reporting applied.
func BuildPipeline(cfg pipeline.Config, config *Config) (*pipeline.Pipeline, error) {
	return Configure(pipeline.NewBuilderFromConfig(cfg), config).Build()
}

// Configure applies the batch worker count and progress reporting to b.
func Configure(b *pipeline.Builder, config *Config) *pipeline.Builder {
	return b.WithParallelWorkers(config.Workers).
		WithProgressCallback(progressCallback(config))
}

// progressCallback returns the console progress bar when progress is
// wanted, and a logging callback otherwise.
func progressCallback(config *Config) pipeline.ProgressCallback {
	if config.Quiet {
		return nil
	}
	if config.ShowProgress && config.Progress != nil {
		return pipeline.NewConsoleProgressCallback(config.Progress, "Processing: ")
	}
	interval := config.ProgressInterval
	if interval <= 0 {
		interval = 1
	}
	return pipeline.NewLogProgressCallback(nil, slog.LevelInfo).WithInterval(interval)
}
