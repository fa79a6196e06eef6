package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/medinvoice/internal/batch"
	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
	"github.com/MeKo-Tech/medinvoice/internal/utils"
)

// errDocumentFailed makes the process exit non-zero after the failure has
// been printed.
var errDocumentFailed = errors.New("document failed")

// processCmd represents the process command.
var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Extract a structured record from one invoice",
	Long: `Run one image or PDF through the pipeline and print its record.

A multi-page scan stored as concatenated page images can declare its pages
with --pages as byte spans "offset:length,offset:length".

Examples:
  medinvoice process invoice.png
  medinvoice process invoice.png --format text
  medinvoice process bundle.png --pages 0:48213,48213:51002
  medinvoice process invoice.png --fixture testdata/invoice.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	path := args[0]

	format, _ := cmd.Flags().GetString("format")
	if format != batch.FormatJSON && format != batch.FormatText {
		return fmt.Errorf("invalid format: %s (must be json or text)", format)
	}
	pagesFlag, _ := cmd.Flags().GetString("pages")
	pages, err := model.ParsePageSpans(pagesFlag)
	if err != nil {
		return fmt.Errorf("invalid --pages: %w", err)
	}

	data, err := utils.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	p, err := buildProcessor(cmd, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = p.close() }()

	res := p.Process(cmd.Context(), model.NewDocument(filepath.Base(path), data, pages))

	out, err := renderResult(res, format)
	if err != nil {
		return err
	}
	if outFile, _ := cmd.Flags().GetString("output"); outFile != "" {
		if err := os.WriteFile(outFile, out, 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	} else {
		_, _ = cmd.OutOrStdout().Write(out)
	}

	if res.Failure != nil {
		return fmt.Errorf("%w: %s", errDocumentFailed, res.Failure.Error())
	}
	return nil
}

// renderResult formats a single result as indented JSON or text.
func renderResult(res *pipeline.Result, format string) ([]byte, error) {
	if format == batch.FormatText {
		switch {
		case res.Failure != nil:
			return fmt.Appendf(nil, "%s: failed during %s: %s: %s\n",
				res.Name, res.Failure.Stage, res.Failure.Kind, res.Failure.Message), nil
		case res.Record != nil:
			return []byte(res.Name + ":\n" + batch.RecordText(res)), nil
		}
		return fmt.Appendf(nil, "%s: %s\n", res.Name, res.Status), nil
	}

	bts, err := res.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return append(indentJSON(bts), '\n'), nil
}

func indentJSON(b []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return b
	}
	return buf.Bytes()
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().String("pages", "", "page byte spans inside the input (offset:length,...)")
	processCmd.Flags().StringP("format", "f", batch.FormatJSON, "output format (json, text)")
	processCmd.Flags().StringP("output", "o", "", "write the result to a file instead of stdout")
	addPipelineFlags(processCmd)
}
