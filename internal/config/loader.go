package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "medinvoice"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "MEDINVOICE"

	// DotEnvFile is loaded into the process environment before configuration.
	DotEnvFile = ".env"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so cobra flag
// bindings apply.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on a private viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// LoadDotEnv loads .env style files into the environment. Missing files are
// ignored and variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{DotEnvFile}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("error loading %s: %w", f, err)
		}
	}
	return nil
}

// Load loads configuration from files, environment variables, and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation loads configuration without validating it.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing file is fine without an explicit path; defaults and env
		// vars still apply.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	// Global settings
	l.v.SetDefault("models_dir", d.ModelsDir)
	l.v.SetDefault("log.level", d.Log.Level)
	l.v.SetDefault("log.format", d.Log.Format)
	l.v.SetDefault("log.verbose", d.Log.Verbose)

	// Preprocessing
	l.v.SetDefault("preprocess.min_dpi", d.Preprocess.MinDPI)
	l.v.SetDefault("preprocess.assumed_page_width_inches", d.Preprocess.AssumedPageWidthInches)
	l.v.SetDefault("preprocess.contrast_normalize", d.Preprocess.ContrastNormalize)
	l.v.SetDefault("preprocess.denoise", d.Preprocess.Denoise)
	l.v.SetDefault("preprocess.binarize", d.Preprocess.Binarize)
	l.v.SetDefault("preprocess.deskew.enabled", d.Preprocess.Deskew.Enabled)
	l.v.SetDefault("preprocess.deskew.max_angle", d.Preprocess.Deskew.MaxAngle)
	l.v.SetDefault("preprocess.deskew.step", d.Preprocess.Deskew.Step)
	l.v.SetDefault("preprocess.deskew.min_sharpness", d.Preprocess.Deskew.MinSharpness)
	l.v.SetDefault("preprocess.deskew.analysis_width", d.Preprocess.Deskew.AnalysisWidth)
	l.v.SetDefault("preprocess.deskew.max_samples", d.Preprocess.Deskew.MaxSamples)

	// OCR
	l.v.SetDefault("ocr.backend", d.OCR.Backend)
	l.v.SetDefault("ocr.language", d.OCR.Language)
	l.v.SetDefault("ocr.low_confidence", d.OCR.LowConfidence)
	l.v.SetDefault("ocr.barcodes", d.OCR.Barcodes)
	l.v.SetDefault("ocr.tesseract.binary", d.OCR.Tesseract.Binary)
	l.v.SetDefault("ocr.tesseract.psm", d.OCR.Tesseract.PSM)
	l.v.SetDefault("ocr.tesseract.oem", d.OCR.Tesseract.OEM)
	l.v.SetDefault("ocr.tesseract.tessdata_dir", d.OCR.Tesseract.TessdataDir)
	l.v.SetDefault("ocr.azure.endpoint", d.OCR.Azure.Endpoint)
	l.v.SetDefault("ocr.azure.key", d.OCR.Azure.Key)
	l.v.SetDefault("ocr.azure.timeout", d.OCR.Azure.Timeout)
	l.v.SetDefault("ocr.static.fixture_path", d.OCR.Static.FixturePath)
	l.v.SetDefault("ocr.remote.requests_per_second", d.OCR.Remote.RequestsPerSecond)
	l.v.SetDefault("ocr.remote.burst", d.OCR.Remote.Burst)
	l.v.SetDefault("ocr.remote.failure_threshold", d.OCR.Remote.FailureThreshold)
	l.v.SetDefault("ocr.remote.open_timeout", d.OCR.Remote.OpenTimeout)

	// Layout
	l.v.SetDefault("layout.line_overlap", d.Layout.LineOverlap)
	l.v.SetDefault("layout.block_gap_factor", d.Layout.BlockGapFactor)
	l.v.SetDefault("layout.column_gap_factor", d.Layout.ColumnGapFactor)
	l.v.SetDefault("layout.min_table_rows", d.Layout.MinTableRows)
	l.v.SetDefault("layout.token_overlap_iou", d.Layout.TokenOverlapIoU)
	l.v.SetDefault("layout.header_fraction", d.Layout.HeaderFraction)

	// Extraction
	l.v.SetDefault("extract.ner.backend", d.Extract.NER.Backend)
	l.v.SetDefault("extract.ner.model_path", d.Extract.NER.ModelPath)
	l.v.SetDefault("extract.ner.max_sequence", d.Extract.NER.MaxSequence)
	l.v.SetDefault("extract.ner.library_path", d.Extract.NER.LibraryPath)
	l.v.SetDefault("extract.ner.num_threads", d.Extract.NER.NumThreads)
	l.v.SetDefault("extract.ner.use_gpu", d.Extract.NER.UseGPU)
	l.v.SetDefault("extract.agreement_boost", d.Extract.AgreementBoost)
	l.v.SetDefault("extract.date_order", d.Extract.DateOrder)
	l.v.SetDefault("extract.min_alternative_confidence", d.Extract.MinAlternativeConfidence)

	// Validation
	l.v.SetDefault("validate.thresholds", d.Validation.Thresholds)
	l.v.SetDefault("validate.default_threshold", d.Validation.DefaultThreshold)
	l.v.SetDefault("validate.acceptance_threshold", d.Validation.AcceptanceThreshold)
	l.v.SetDefault("validate.tolerance", d.Validation.Tolerance)
	l.v.SetDefault("validate.taxonomy_path", d.Validation.TaxonomyPath)

	// Orchestration
	l.v.SetDefault("pipeline.timeout", d.Pipeline.Timeout)
	l.v.SetDefault("pipeline.max_workers", d.Pipeline.MaxWorkers)

	// Server
	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit", d.Server.RateLimit)
	l.v.SetDefault("server.rate_burst", d.Server.RateBurst)
	l.v.SetDefault("server.metrics_enabled", d.Server.MetricsEnabled)

	// Batch
	l.v.SetDefault("batch.workers", d.Batch.Workers)
	l.v.SetDefault("batch.recursive", d.Batch.Recursive)
	l.v.SetDefault("batch.include", d.Batch.Include)
	l.v.SetDefault("batch.exclude", d.Batch.Exclude)
	l.v.SetDefault("batch.format", d.Batch.Format)
	l.v.SetDefault("batch.output_file", d.Batch.OutputFile)
	l.v.SetDefault("batch.continue_on_error", d.Batch.ContinueOnError)

	// Database
	l.v.SetDefault("database.dsn", d.Database.DSN)
	l.v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	l.v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	l.v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	l.v.SetDefault("database.migrate", d.Database.Migrate)

	// Storage
	l.v.SetDefault("storage.endpoint", d.Storage.Endpoint)
	l.v.SetDefault("storage.access_key", d.Storage.AccessKey)
	l.v.SetDefault("storage.secret_key", d.Storage.SecretKey)
	l.v.SetDefault("storage.bucket", d.Storage.Bucket)
	l.v.SetDefault("storage.region", d.Storage.Region)
	l.v.SetDefault("storage.use_ssl", d.Storage.UseSSL)

	// Cache
	l.v.SetDefault("cache.enabled", d.Cache.Enabled)
	l.v.SetDefault("cache.dir", d.Cache.Dir)
	l.v.SetDefault("cache.in_memory", d.Cache.InMemory)
	l.v.SetDefault("cache.ttl", d.Cache.TTL)

	// Tracing
	l.v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	l.v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	l.v.SetDefault("tracing.protocol", d.Tracing.Protocol)
	l.v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	l.v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	l.v.SetDefault("tracing.sampler", d.Tracing.Sampler)
	l.v.SetDefault("tracing.sampler_arg", d.Tracing.SamplerArg)

	// Paths
	l.v.SetDefault("paths.uploads", d.Paths.Uploads)
	l.v.SetDefault("paths.output", d.Paths.Output)
	l.v.SetDefault("paths.logs", d.Paths.Logs)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes every default to filename, medinvoice.yaml
// when empty.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}
	return append(paths, "/etc/"+ConfigFileName)
}
