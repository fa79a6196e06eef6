package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/medinvoice/internal/batch"
	"github.com/MeKo-Tech/medinvoice/internal/config"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
)

// batchCmd represents the batch command for parallel invoice processing.
var batchCmd = &cobra.Command{
	Use:   "batch [files or directories...]",
	Short: "Process many invoices in parallel",
	Long: `Process image and PDF invoices in parallel and write a report.

Directories are searched for supported files (JPEG, PNG, BMP, TIFF, WebP,
GIF and PDF). Reports list one entry per document in input order.

Examples:
  medinvoice batch ./inbox
  medinvoice batch ./inbox --recursive=false --workers 8
  medinvoice batch a.png b.pdf --format json --output results.json
  medinvoice batch ./inbox --include "*.pdf" --format csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatchCommand,
}

// configToBatchConfig maps centralized configuration to batch.Config with
// CLI flag overrides.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) *batch.Config {
	bc := batch.DefaultConfig()
	bc.Progress = cmd.ErrOrStderr()

	bc.Workers = cfg.Batch.Workers
	if cmd.Flags().Changed("workers") {
		bc.Workers, _ = cmd.Flags().GetInt("workers")
	}
	bc.Recursive = cfg.Batch.Recursive
	if cmd.Flags().Changed("recursive") {
		bc.Recursive, _ = cmd.Flags().GetBool("recursive")
	}
	bc.IncludePatterns = cfg.Batch.Include
	if cmd.Flags().Changed("include") {
		bc.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	}
	bc.ExcludePatterns = cfg.Batch.Exclude
	if cmd.Flags().Changed("exclude") {
		bc.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
	}
	bc.Format = cfg.Batch.Format
	if cmd.Flags().Changed("format") {
		bc.Format, _ = cmd.Flags().GetString("format")
	}
	bc.OutputFile = cfg.Batch.OutputFile
	if cmd.Flags().Changed("output") {
		bc.OutputFile, _ = cmd.Flags().GetString("output")
	}
	bc.ContinueOnError = cfg.Batch.ContinueOnError
	if cmd.Flags().Changed("continue-on-error") {
		bc.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	}

	bc.ShowProgress, _ = cmd.Flags().GetBool("progress")
	bc.Quiet, _ = cmd.Flags().GetBool("quiet")
	bc.ProgressInterval, _ = cmd.Flags().GetInt("progress-interval")
	return bc
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	bc := configToBatchConfig(cfg, cmd)
	if err := bc.Validate(); err != nil {
		return err
	}

	p, err := buildProcessor(cmd, cfg, func(b *pipeline.Builder) { batch.Configure(b, bc) })
	if err != nil {
		return err
	}
	defer func() { _ = p.close() }()

	res, err := batch.ProcessBatch(cmd.Context(), p, args, bc)
	if res != nil {
		if saveErr := res.SaveResults(cmd.OutOrStdout(), bc.Format, bc.OutputFile, bc.Quiet); saveErr != nil {
			return saveErr
		}
		res.PrintStats(cmd.ErrOrStderr(), bc.Quiet)
	}
	return err
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntP("workers", "w", 4, "number of parallel workers")
	batchCmd.Flags().BoolP("recursive", "r", true, "search directories recursively")
	batchCmd.Flags().StringSlice("include", nil, "glob patterns of file names to include")
	batchCmd.Flags().StringSlice("exclude", nil, "glob patterns of file names to exclude")
	batchCmd.Flags().StringP("format", "f", batch.FormatText, "report format (json, csv, text)")
	batchCmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
	batchCmd.Flags().Bool("continue-on-error", true, "exit successfully even when documents fail")
	batchCmd.Flags().Bool("progress", false, "show a progress bar on stderr")
	batchCmd.Flags().BoolP("quiet", "q", false, "suppress progress and statistics")
	batchCmd.Flags().Int("progress-interval", 10, "log progress every n documents when no progress bar is shown")
	addPipelineFlags(batchCmd)
}
