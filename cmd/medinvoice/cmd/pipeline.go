package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/medinvoice/internal/cache"
	"github.com/MeKo-Tech/medinvoice/internal/config"
	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pdf"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
)

// addPipelineFlags registers the stage overrides shared by process, batch,
// watch and serve.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("ocr-backend", "", "OCR backend (tesseract, gosseract, azure, static, unavailable)")
	cmd.Flags().String("fixture", "", "replay OCR tokens from a YAML fixture (selects the static backend)")
	cmd.Flags().String("ner", "", "NER backend (lexicon, onnx, none)")
	cmd.Flags().Bool("barcodes", false, "decode barcodes on every page")
	cmd.Flags().Float64("min-dpi", 0, "minimum page resolution")
	cmd.Flags().Duration("timeout", 0, "per-document processing budget (e.g. 60s)")
	cmd.Flags().String("pdf-pages", "", "PDF page range, e.g. 1-3,5")
	cmd.Flags().String("pdf-password", "", "password for encrypted PDFs")
	cmd.Flags().Bool("cache", false, "reuse results of identical documents from the result cache")
}

// pipelineBuilder returns a builder for cfg with flag overrides applied.
func pipelineBuilder(cmd *cobra.Command, cfg *config.Config) *pipeline.Builder {
	b := pipeline.NewBuilderFromConfig(cfg.ToPipelineConfig())

	if cmd.Flags().Changed("ocr-backend") {
		v, _ := cmd.Flags().GetString("ocr-backend")
		b.WithOCRBackend(v)
	}
	if cmd.Flags().Changed("fixture") {
		v, _ := cmd.Flags().GetString("fixture")
		b.WithStaticFixture(v)
	}
	if cmd.Flags().Changed("ner") {
		v, _ := cmd.Flags().GetString("ner")
		b.WithNERBackend(v)
	}
	if cmd.Flags().Changed("barcodes") {
		v, _ := cmd.Flags().GetBool("barcodes")
		b.WithBarcodes(v)
	}
	if cmd.Flags().Changed("min-dpi") {
		v, _ := cmd.Flags().GetFloat64("min-dpi")
		b.WithMinDPI(v)
	}
	if cmd.Flags().Changed("timeout") {
		v, _ := cmd.Flags().GetDuration("timeout")
		b.WithTimeout(v)
	}

	var opts pdf.Options
	opts.Pages, _ = cmd.Flags().GetString("pdf-pages")
	if pw, _ := cmd.Flags().GetString("pdf-password"); pw != "" {
		opts.Credentials = &pdf.PasswordCredentials{UserPassword: pw, OwnerPassword: pw}
	}
	if opts.Pages != "" || opts.Credentials != nil {
		b.WithPDFOptions(opts)
	}
	return b
}

// openCache opens the result cache when enabled by config or flag. It
// returns nil when caching is off.
func openCache(cmd *cobra.Command, cfg *config.Config) (*cache.Cache, error) {
	enabled := cfg.Cache.Enabled
	if cmd.Flags().Changed("cache") {
		enabled, _ = cmd.Flags().GetBool("cache")
	}
	if !enabled {
		return nil, nil
	}
	c, err := cache.Open(cache.Options{Dir: cfg.Cache.Dir, InMemory: cfg.Cache.InMemory, TTL: cfg.Cache.TTL})
	if err != nil {
		return nil, fmt.Errorf("failed to open result cache: %w", err)
	}
	slog.Debug("result cache enabled", "dir", cfg.Cache.Dir, "in_memory", cfg.Cache.InMemory)
	return c, nil
}

// cachedProcessor routes single documents and batches through the result
// cache.
type cachedProcessor struct {
	*pipeline.Pipeline
	cache *cache.Cache
}

func newCachedProcessor(p *pipeline.Pipeline, c *cache.Cache) *cachedProcessor {
	return &cachedProcessor{Pipeline: p, cache: c}
}

// Process answers doc from the cache when one is open.
func (c *cachedProcessor) Process(ctx context.Context, doc *model.Document) *pipeline.Result {
	if c.cache == nil {
		return c.Pipeline.Process(ctx, doc)
	}
	return c.cache.Process(ctx, c.Pipeline, doc)
}

// ProcessBatch sends only cache misses to the pipeline.
func (c *cachedProcessor) ProcessBatch(ctx context.Context, docs []*model.Document) []*pipeline.Result {
	if c.cache == nil {
		return c.Pipeline.ProcessBatch(ctx, docs)
	}
	return c.cache.ProcessBatch(ctx, c.Pipeline, docs)
}

// close releases the cache and the pipeline.
func (c *cachedProcessor) close() error {
	var errs []error
	if c.cache != nil {
		errs = append(errs, c.cache.Close())
	}
	errs = append(errs, c.Pipeline.Close())
	return errors.Join(errs...)
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// buildProcessor builds the pipeline for cfg and opens the result cache.
// configure may adjust the builder after flag overrides.
func buildProcessor(cmd *cobra.Command, cfg *config.Config, configure func(*pipeline.Builder)) (*cachedProcessor, error) {
	b := pipelineBuilder(cmd, cfg)
	if configure != nil {
		configure(b)
	}
	p, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	c, err := openCache(cmd, cfg)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return newCachedProcessor(p, c), nil
}
