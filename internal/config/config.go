package config

import (
	"fmt"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/medinvoice/internal/extract"
	"github.com/MeKo-Tech/medinvoice/internal/layout"
	"github.com/MeKo-Tech/medinvoice/internal/models"
	"github.com/MeKo-Tech/medinvoice/internal/ocr"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
	"github.com/MeKo-Tech/medinvoice/internal/preprocess"
	"github.com/MeKo-Tech/medinvoice/internal/tracing"
	"github.com/MeKo-Tech/medinvoice/internal/validate"
)

var (
	validLogLevels    = []string{"debug", "info", "warn", "error"}
	validLogFormats   = []string{"json", "text"}
	validBatchFormats = []string{"json", "csv", "text"}
)

// DefaultConfig returns a configuration with sensible defaults. Stage
// sections mirror the component defaults.
func DefaultConfig() Config {
	pre := preprocess.DefaultConfig()
	o := ocr.DefaultConfig()
	lay := layout.DefaultConfig()

	return Config{
		ModelsDir: models.DefaultModelsDir,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Preprocess: PreprocessConfig{
			MinDPI:                 pre.MinDPI,
			AssumedPageWidthInches: pre.AssumedPageWidthInches,
			ContrastNormalize:      pre.ContrastNormalize,
			Denoise:                pre.Denoise,
			Binarize:               pre.Binarize,
			Deskew: DeskewConfig{
				Enabled:       pre.Deskew.Enabled,
				MaxAngle:      pre.Deskew.MaxAngle,
				Step:          pre.Deskew.Step,
				MinSharpness:  pre.Deskew.MinSharpness,
				AnalysisWidth: pre.Deskew.AnalysisWidth,
				MaxSamples:    pre.Deskew.MaxSamples,
			},
		},
		OCR: OCRConfig{
			Backend:       o.Backend,
			Language:      o.Language,
			LowConfidence: o.LowConfidence,
			Barcodes:      o.Barcodes,
			Tesseract: TesseractConfig{
				Binary: o.Tesseract.Binary,
				PSM:    o.Tesseract.PSM,
				OEM:    o.Tesseract.OEM,
			},
			Azure: AzureConfig{Timeout: o.Azure.Timeout},
			Remote: RemoteConfig{
				RequestsPerSecond: o.Remote.RequestsPerSecond,
				Burst:             o.Remote.Burst,
				FailureThreshold:  o.Remote.FailureThreshold,
				OpenTimeout:       o.Remote.OpenTimeout,
			},
		},
		Layout: LayoutConfig{
			LineOverlap:     lay.LineOverlap,
			BlockGapFactor:  lay.BlockGapFactor,
			ColumnGapFactor: lay.ColumnGapFactor,
			MinTableRows:    lay.MinTableRows,
			TokenOverlapIoU: lay.TokenOverlapIoU,
			HeaderFraction:  lay.HeaderFraction,
		},
		Extract:    extract.DefaultConfig(),
		Validation: validate.DefaultConfig(),
		Pipeline: PipelineConfig{
			Timeout:    pipeline.DefaultTimeout,
			MaxWorkers: runtime.NumCPU(),
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     25,
			TimeoutSec:      90,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       10,
			RateBurst:       20,
			MetricsEnabled:  true,
		},
		Batch: BatchConfig{
			Workers:         4,
			Recursive:       true,
			Format:          "text",
			ContinueOnError: true,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
		},
		Storage: StorageConfig{
			Bucket: "medinvoice",
			Region: "us-east-1",
		},
		Cache: CacheConfig{
			Dir: ".cache/medinvoice",
			TTL: 7 * 24 * time.Hour,
		},
		Tracing: tracing.DefaultConfig(),
		Paths: PathsConfig{
			Uploads: "uploads",
			Output:  "output",
			Logs:    "logs",
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.Log.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.Log.Level, strings.Join(validLogLevels, ", "))
	}
	if c.Log.Format != "" && !slices.Contains(validLogFormats, c.Log.Format) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", c.Log.Format, strings.Join(validLogFormats, ", "))
	}
	if c.Batch.Format != "" && !slices.Contains(validBatchFormats, c.Batch.Format) {
		return fmt.Errorf("invalid batch format: %s (must be one of: %s)", c.Batch.Format, strings.Join(validBatchFormats, ", "))
	}

	if err := c.ToPipelineConfig().Validate(); err != nil {
		return err
	}

	if c.Pipeline.MaxWorkers <= 0 {
		return fmt.Errorf("invalid pipeline max workers: %d (must be positive)", c.Pipeline.MaxWorkers)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("invalid rate limit: %.2f/%d (must be non-negative)", c.Server.RateLimit, c.Server.RateBurst)
	}

	if c.Database.DSN != "" && c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("invalid database max open conns: %d", c.Database.MaxOpenConns)
	}
	if c.Storage.Endpoint != "" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket must be set when an endpoint is configured")
	}
	if c.Cache.Enabled && !c.Cache.InMemory && c.Cache.Dir == "" {
		return fmt.Errorf("cache dir must be set for a persistent cache")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("invalid cache ttl: %v (must be non-negative)", c.Cache.TTL)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		ModelsDir:  c.ModelsDir,
		Preprocess: c.toPreprocessConfig(),
		OCR:        c.toOCRConfig(),
		Layout:     c.toLayoutConfig(),
		Extract:    c.Extract,
		Validation: c.Validation,
		Timeout:    c.Pipeline.Timeout,
		Parallel:   pipeline.ParallelConfig{MaxWorkers: c.Pipeline.MaxWorkers},
	}
}

func (c *Config) toPreprocessConfig() preprocess.Config {
	p := c.Preprocess
	return preprocess.Config{
		MinDPI:                 p.MinDPI,
		AssumedPageWidthInches: p.AssumedPageWidthInches,
		ContrastNormalize:      p.ContrastNormalize,
		Denoise:                p.Denoise,
		Binarize:               p.Binarize,
		Deskew: preprocess.DeskewConfig{
			Enabled:       p.Deskew.Enabled,
			MaxAngle:      p.Deskew.MaxAngle,
			Step:          p.Deskew.Step,
			MinSharpness:  p.Deskew.MinSharpness,
			AnalysisWidth: p.Deskew.AnalysisWidth,
			MaxSamples:    p.Deskew.MaxSamples,
		},
	}
}

func (c *Config) toOCRConfig() ocr.Config {
	o := c.OCR
	tessdata := o.Tesseract.TessdataDir
	if tessdata == "" && c.ModelsDir != "" {
		if dir := models.GetTessdataDir(c.ModelsDir); dirExists(dir) {
			tessdata = dir
		}
	}
	return ocr.Config{
		Backend:       o.Backend,
		Language:      o.Language,
		LowConfidence: o.LowConfidence,
		Barcodes:      o.Barcodes,
		Tesseract: ocr.TesseractConfig{
			Binary:      o.Tesseract.Binary,
			PSM:         o.Tesseract.PSM,
			OEM:         o.Tesseract.OEM,
			TessdataDir: tessdata,
		},
		Azure: ocr.AzureConfig{
			Endpoint: o.Azure.Endpoint,
			Key:      o.Azure.Key,
			Timeout:  o.Azure.Timeout,
		},
		Static: ocr.StaticConfig{FixturePath: o.Static.FixturePath},
		Remote: ocr.RemoteConfig{
			RequestsPerSecond: o.Remote.RequestsPerSecond,
			Burst:             o.Remote.Burst,
			FailureThreshold:  o.Remote.FailureThreshold,
			OpenTimeout:       o.Remote.OpenTimeout,
		},
	}
}

func (c *Config) toLayoutConfig() layout.Config {
	l := c.Layout
	return layout.Config{
		LineOverlap:     l.LineOverlap,
		BlockGapFactor:  l.BlockGapFactor,
		ColumnGapFactor: l.ColumnGapFactor,
		MinTableRows:    l.MinTableRows,
		TokenOverlapIoU: l.TokenOverlapIoU,
		HeaderFraction:  l.HeaderFraction,
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ServerAddress returns host:port for the HTTP server.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
