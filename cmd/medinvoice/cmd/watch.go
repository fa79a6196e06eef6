package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/medinvoice/internal/batch"
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Process invoices as they arrive in a directory",
	Long: `Watch a directory and process every supported file created in it.

Each file is processed once and its result written to <output>/<name>.json.
The directory defaults to paths.uploads and the output to paths.output.

Examples:
  medinvoice watch
  medinvoice watch ./inbox --output ./results --existing`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	dir := cfg.Paths.Uploads
	if len(args) == 1 {
		dir = args[0]
	}
	out := cfg.Paths.Output
	if cmd.Flags().Changed("output") {
		out, _ = cmd.Flags().GetString("output")
	}
	debounce, _ := cmd.Flags().GetDuration("debounce")
	existing, _ := cmd.Flags().GetBool("existing")

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create watch directory: %w", err)
	}

	p, err := buildProcessor(cmd, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = p.close() }()

	w, err := batch.NewWatcher(p, batch.WatchOptions{
		OutputDir:       out,
		Debounce:        debounce,
		IncludePatterns: cfg.Batch.Include,
		ExcludePatterns: cfg.Batch.Exclude,
		ProcessExisting: existing,
		Logger:          slog.Default(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return w.Run(ctx, dir)
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringP("output", "o", "", "directory for result files (default paths.output)")
	watchCmd.Flags().Duration("debounce", batch.DefaultDebounce, "quiet period before a new file is processed")
	watchCmd.Flags().Bool("existing", false, "also process files already in the directory")
	addPipelineFlags(watchCmd)
}
