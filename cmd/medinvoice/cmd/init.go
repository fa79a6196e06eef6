package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/medinvoice/internal/config"
	"github.com/MeKo-Tech/medinvoice/internal/extract"
	"github.com/MeKo-Tech/medinvoice/internal/models"
	"github.com/MeKo-Tech/medinvoice/internal/ocr"
)

// initCmd provisions a working directory.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare directories, .env and models",
	Long: `Prepare the current directory for running medinvoice.

init creates the uploads, output, logs and models directories, copies
env.example to .env when no .env exists, writes the default lexicon NER
model when it is missing and reports whether the configured OCR backend is
usable. Existing files are never overwritten.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	cfg := GetConfig()
	out := cmd.OutOrStdout()

	modelsDir := models.GetModelsDir(cfg.ModelsDir)
	for _, dir := range []string{cfg.Paths.Uploads, cfg.Paths.Output, cfg.Paths.Logs, modelsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		_, _ = fmt.Fprintf(out, "directory  %s\n", dir)
	}

	envExample, _ := cmd.Flags().GetString("env-example")
	copied, err := copyIfAbsent(envExample, config.DotEnvFile)
	switch {
	case err != nil:
		return err
	case copied:
		_, _ = fmt.Fprintf(out, "env        %s created from %s\n", config.DotEnvFile, envExample)
	default:
		_, _ = fmt.Fprintf(out, "env        %s kept\n", config.DotEnvFile)
	}

	if err := ensureNERModel(out, cfg.ModelsDir, cfg.Extract.NER); err != nil {
		return err
	}

	if cfgOut, _ := cmd.Flags().GetString("write-config"); cfgOut != "" {
		if _, err := os.Stat(cfgOut); err == nil {
			_, _ = fmt.Fprintf(out, "config     %s kept\n", cfgOut)
		} else {
			if err := config.GenerateDefaultConfigFile(cfgOut); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			_, _ = fmt.Fprintf(out, "config     %s written\n", cfgOut)
		}
	}

	ocrCfg := cfg.ToPipelineConfig().OCR
	if detail, err := checkOCRBackend(ocrCfg); err != nil {
		_, _ = fmt.Fprintf(out, "ocr        %s unavailable: %v\n", ocrCfg.Backend, err)
	} else {
		_, _ = fmt.Fprintf(out, "ocr        %s ready (%s)\n", ocrCfg.Backend, detail)
	}
	return nil
}

// copyIfAbsent copies src to dst unless dst exists or src is missing.
func copyIfAbsent(src, dst string) (bool, error) {
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	}
	in, err := os.Open(src) //nolint:gosec // path comes from a flag
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	outFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // fixed name
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(outFile, in); err != nil {
		_ = outFile.Close()
		return false, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return true, outFile.Close()
}

// ensureNERModel writes the default lexicon when the lexicon backend is
// configured and its model file is missing. Other backends are only checked.
func ensureNERModel(out io.Writer, modelsDir string, ner extract.NERConfig) error {
	if ner.Backend == extract.NERNone {
		_, _ = fmt.Fprintln(out, "ner        disabled")
		return nil
	}
	path := ner.ModelPath
	if path == "" {
		path = models.GetNERModelPath(modelsDir, ner.Backend)
	}
	if models.ValidateModelExists(path) == nil {
		_, _ = fmt.Fprintf(out, "ner        %s found at %s\n", ner.Backend, path)
		return nil
	}
	if ner.Backend != extract.NERLexicon && ner.Backend != "" {
		_, _ = fmt.Fprintf(out, "ner        %s missing at %s\n", ner.Backend, path)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, extract.DefaultLexiconYAML(), 0o600); err != nil {
		return fmt.Errorf("failed to write lexicon: %w", err)
	}
	_, _ = fmt.Fprintf(out, "ner        default lexicon written to %s\n", path)
	return nil
}

// checkOCRBackend reports whether the configured backend can be created and
// reached.
func checkOCRBackend(cfg ocr.Config) (string, error) {
	eng, err := ocr.NewEngine(cfg)
	if err != nil {
		return "", err
	}
	defer func() { _ = eng.Close() }()

	switch cfg.Backend {
	case "tesseract":
		path, err := exec.LookPath(cfg.Tesseract.Binary)
		if err != nil {
			return "", fmt.Errorf("%s not on PATH", cfg.Tesseract.Binary)
		}
		return path, nil
	case "azure":
		if cfg.Azure.Endpoint == "" || cfg.Azure.Key == "" {
			return "", errors.New("endpoint and key must be configured")
		}
		return cfg.Azure.Endpoint, nil
	case "unavailable":
		return "", errors.New("backend always fails")
	}
	return eng.Name(), nil
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("env-example", "env.example", "template copied to .env")
	initCmd.Flags().String("write-config", "", "also write a default config file to this path")
}
