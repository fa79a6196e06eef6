// Package pipeline drives a document through preprocessing, OCR, layout
// reconstruction, field extraction and validation.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/MeKo-Tech/medinvoice/internal/extract"
	"github.com/MeKo-Tech/medinvoice/internal/layout"
	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/models"
	"github.com/MeKo-Tech/medinvoice/internal/ocr"
	"github.com/MeKo-Tech/medinvoice/internal/pdf"
	"github.com/MeKo-Tech/medinvoice/internal/preprocess"
	"github.com/MeKo-Tech/medinvoice/internal/validate"
)

const tracerName = "github.com/MeKo-Tech/medinvoice/internal/pipeline"

// DefaultTimeout is the per-document wall clock budget.
const DefaultTimeout = 60 * time.Second

// Config holds configuration for the pipeline and its components.
type Config struct {
	ModelsDir  string            `json:"models_dir"`
	Preprocess preprocess.Config `json:"preprocess"`
	OCR        ocr.Config        `json:"ocr"`
	Layout     layout.Config     `json:"layout"`
	Extract    extract.Config    `json:"extract"`
	Validation validate.Config   `json:"validate"`
	PDF        pdf.Options       `json:"-"`
	// Timeout bounds one document; zero disables the budget.
	Timeout  time.Duration  `json:"timeout"`
	Parallel ParallelConfig `json:"-"`
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir:  models.GetModelsDir(""),
		Preprocess: preprocess.DefaultConfig(),
		OCR:        ocr.DefaultConfig(),
		Layout:     layout.DefaultConfig(),
		Extract:    extract.DefaultConfig(),
		Validation: validate.DefaultConfig(),
		Timeout:    DefaultTimeout,
		Parallel:   DefaultParallelConfig(),
	}
}

// Validate checks every component configuration.
func (c Config) Validate() error {
	if err := c.Preprocess.Validate(); err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	if err := c.OCR.Validate(); err != nil {
		return fmt.Errorf("ocr: %w", err)
	}
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	if err := c.Extract.Validate(); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if err := c.Validation.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be non-negative")
	}
	return nil
}

// Fingerprint hashes every setting that influences a record. Equal input
// bytes under equal fingerprints produce identical records.
func (c Config) Fingerprint() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg      Config
	engine   ocr.Engine
	ner      extract.NER
	taxonomy *validate.Taxonomy
	metrics  *Metrics
	tracer   trace.Tracer
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// NewBuilderFromConfig starts from an existing configuration.
func NewBuilderFromConfig(cfg Config) *Builder { return &Builder{cfg: cfg} }

// WithModelsDir sets the models directory.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
	}
	return b
}

// WithOCRBackend selects a registered OCR backend by name.
func (b *Builder) WithOCRBackend(name string) *Builder {
	if name != "" {
		b.cfg.OCR.Backend = name
	}
	return b
}

// WithStaticFixture replays OCR tokens from a fixture file.
func (b *Builder) WithStaticFixture(path string) *Builder {
	b.cfg.OCR.Backend = "static"
	b.cfg.OCR.Static.FixturePath = path
	return b
}

// WithOCREngine injects an engine. The pipeline does not close it.
func (b *Builder) WithOCREngine(e ocr.Engine) *Builder {
	b.engine = e
	if e != nil {
		b.cfg.OCR.Backend = e.Name()
	}
	return b
}

// WithBarcodes toggles the barcode pass after OCR.
func (b *Builder) WithBarcodes(enabled bool) *Builder {
	b.cfg.OCR.Barcodes = enabled
	return b
}

// WithNERBackend selects the statistical extraction backend.
func (b *Builder) WithNERBackend(name string) *Builder {
	if name != "" {
		b.cfg.Extract.NER.Backend = name
	}
	return b
}

// WithNERModelPath overrides the NER model path.
func (b *Builder) WithNERModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Extract.NER.ModelPath = path
	}
	return b
}

// WithNER injects a statistical backend. The pipeline takes ownership.
func (b *Builder) WithNER(n extract.NER) *Builder {
	b.ner = n
	return b
}

// WithTaxonomy injects the classifier taxonomy.
func (b *Builder) WithTaxonomy(t *validate.Taxonomy) *Builder {
	b.taxonomy = t
	return b
}

// WithThreshold sets the high confidence threshold for one field kind.
func (b *Builder) WithThreshold(kind model.FieldKind, th float64) *Builder {
	thresholds := make(map[string]float64, len(b.cfg.Validation.Thresholds)+1)
	for k, v := range b.cfg.Validation.Thresholds {
		thresholds[k] = v
	}
	thresholds[string(kind)] = th
	b.cfg.Validation.Thresholds = thresholds
	return b
}

// WithTolerance sets the arithmetic cross-check tolerance.
func (b *Builder) WithTolerance(tol float64) *Builder {
	if tol >= 0 {
		b.cfg.Validation.Tolerance = tol
	}
	return b
}

// WithAcceptanceThreshold sets the overall confidence needed for acceptance.
func (b *Builder) WithAcceptanceThreshold(th float64) *Builder {
	b.cfg.Validation.AcceptanceThreshold = th
	return b
}

// WithMinDPI sets the minimum page resolution.
func (b *Builder) WithMinDPI(dpi float64) *Builder {
	b.cfg.Preprocess.MinDPI = dpi
	return b
}

// WithTimeout sets the per-document budget.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	if d >= 0 {
		b.cfg.Timeout = d
	}
	return b
}

// WithPDFOptions sets page selection and credentials for PDF input.
func (b *Builder) WithPDFOptions(opts pdf.Options) *Builder {
	b.cfg.PDF = opts
	return b
}

// WithParallelWorkers sets the number of batch workers.
func (b *Builder) WithParallelWorkers(workers int) *Builder {
	if workers > 0 {
		b.cfg.Parallel.MaxWorkers = workers
	}
	return b
}

// WithProgressCallback sets the progress callback for batch processing.
func (b *Builder) WithProgressCallback(callback ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = callback
	return b
}

// WithMetrics records pipeline metrics into m.
func (b *Builder) WithMetrics(m *Metrics) *Builder {
	b.metrics = m
	return b
}

// WithTracer overrides the tracer; the global provider is used otherwise.
func (b *Builder) WithTracer(t trace.Tracer) *Builder {
	b.tracer = t
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the configuration and the configured model files.
func (b *Builder) Validate() error {
	if err := b.cfg.Validate(); err != nil {
		return err
	}
	if b.ner == nil && b.cfg.Extract.NER.Backend == extract.NERONNX {
		path := b.nerModelPath()
		if err := models.ValidateModelExists(path); err != nil {
			return fmt.Errorf("ner: %w", err)
		}
	}
	if p := b.cfg.Validation.TaxonomyPath; p != "" && b.taxonomy == nil {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("taxonomy not found: %s", p)
		}
	}
	return nil
}

// nerModelPath returns the explicit model path, else the models directory
// file when it exists. An empty lexicon path selects the built-in lexicon.
func (b *Builder) nerModelPath() string {
	if b.cfg.Extract.NER.ModelPath != "" {
		return b.cfg.Extract.NER.ModelPath
	}
	path := models.GetNERModelPath(b.cfg.ModelsDir, b.cfg.Extract.NER.Backend)
	if b.cfg.Extract.NER.Backend == extract.NERONNX {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func (b *Builder) loadTaxonomy() (*validate.Taxonomy, error) {
	if b.taxonomy != nil {
		return b.taxonomy, nil
	}
	path := b.cfg.Validation.TaxonomyPath
	if path == "" {
		candidate := models.GetTaxonomyPath(b.cfg.ModelsDir)
		if _, err := os.Stat(candidate); err != nil {
			return validate.DefaultTaxonomy(), nil
		}
		path = candidate
	}
	t, err := validate.LoadTaxonomy(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("taxonomy loaded", "path", path, "categories", len(t.Categories))
	return t, nil
}

// Pipeline wires the stages together. It is safe for concurrent use.
type Pipeline struct {
	cfg        Config
	pre        *preprocess.Preprocessor
	adapter    *ocr.Adapter
	layout     *layout.Reconstructor
	extractor  *extract.Extractor
	validator  *validate.Validator
	metrics    *Metrics
	tracer     trace.Tracer
	ownsEngine bool
}

// Build loads the models and initializes the components.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	engine, owns := b.engine, false
	if engine == nil {
		e, err := ocr.NewEngine(b.cfg.OCR)
		if err != nil {
			return nil, fmt.Errorf("init ocr backend: %w", err)
		}
		engine, owns = e, true
	}

	ner := b.ner
	if ner == nil {
		nerCfg := b.cfg.Extract.NER
		nerCfg.ModelPath = b.nerModelPath()
		n, err := extract.NewNER(nerCfg)
		if err != nil {
			if owns {
				_ = engine.Close()
			}
			return nil, fmt.Errorf("init ner: %w", err)
		}
		ner = n
	}

	taxonomy, err := b.loadTaxonomy()
	if err != nil {
		_ = ner.Close()
		if owns {
			_ = engine.Close()
		}
		return nil, fmt.Errorf("init taxonomy: %w", err)
	}

	tracer := b.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	p := &Pipeline{
		cfg:        b.cfg,
		pre:        preprocess.New(b.cfg.Preprocess),
		adapter:    ocr.NewAdapter(engine, b.cfg.OCR),
		layout:     layout.New(b.cfg.Layout),
		extractor:  extract.New(b.cfg.Extract, ner),
		validator:  validate.New(b.cfg.Validation, taxonomy),
		metrics:    b.metrics,
		tracer:     tracer,
		ownsEngine: owns,
	}
	slog.Debug("pipeline built",
		"ocr_backend", engine.Name(),
		"ner_backend", ner.Name(),
		"categories", len(taxonomy.Categories),
		"timeout", b.cfg.Timeout)
	return p, nil
}

// Close releases the loaded models and the OCR backend.
func (p *Pipeline) Close() error {
	var firstErr error
	if p.extractor != nil {
		if err := p.extractor.Close(); err != nil {
			firstErr = err
		}
		p.extractor = nil
	}
	if p.adapter != nil && p.ownsEngine {
		if err := p.adapter.Engine().Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.adapter = nil
	return firstErr
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Info returns key pipeline properties.
func (p *Pipeline) Info() map[string]any {
	info := map[string]any{
		"models_dir":  p.cfg.ModelsDir,
		"timeout":     p.cfg.Timeout.String(),
		"fingerprint": p.cfg.Fingerprint(),
		"parallel": map[string]any{
			"max_workers":           p.cfg.Parallel.MaxWorkers,
			"has_progress_callback": p.cfg.Parallel.ProgressCallback != nil,
		},
		"validate": map[string]any{
			"thresholds":           p.cfg.Validation.Thresholds,
			"acceptance_threshold": p.cfg.Validation.AcceptanceThreshold,
			"tolerance":            p.cfg.Validation.Tolerance,
		},
	}
	if p.adapter != nil {
		info["ocr"] = map[string]any{
			"backend":  p.adapter.Engine().Name(),
			"barcodes": p.cfg.OCR.Barcodes,
		}
	}
	if p.extractor != nil {
		info["ner"] = map[string]any{"backend": p.extractor.NER().Name()}
	}
	if p.validator != nil {
		names := make([]string, 0, len(p.validator.Taxonomy().Categories))
		for _, c := range p.validator.Taxonomy().Categories {
			names = append(names, c.Name)
		}
		info["categories"] = names
	}
	return info
}
