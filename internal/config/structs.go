//nolint:lll
package config

import (
	"time"

	"github.com/MeKo-Tech/medinvoice/internal/extract"
	"github.com/MeKo-Tech/medinvoice/internal/tracing"
	"github.com/MeKo-Tech/medinvoice/internal/validate"
)

// Config represents the complete configuration for the medinvoice
// application. It covers every command (process, batch, watch, serve) and is
// loaded from configuration files, .env files, environment variables and
// command-line flags.
type Config struct {
	// Global settings
	ModelsDir string    `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	Log       LogConfig `mapstructure:"log" yaml:"log" json:"log"`

	// Pipeline stages
	Preprocess PreprocessConfig `mapstructure:"preprocess" yaml:"preprocess" json:"preprocess"`
	OCR        OCRConfig        `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Layout     LayoutConfig     `mapstructure:"layout" yaml:"layout" json:"layout"`
	Extract    extract.Config   `mapstructure:"extract" yaml:"extract" json:"extract"`
	Validation validate.Config  `mapstructure:"validate" yaml:"validate" json:"validate"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// Surfaces
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
	Batch  BatchConfig  `mapstructure:"batch" yaml:"batch" json:"batch"`

	// Infrastructure
	Database DatabaseConfig `mapstructure:"database" yaml:"database" json:"database"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage" json:"storage"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache" json:"cache"`
	Tracing  tracing.Config `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
	Paths    PathsConfig    `mapstructure:"paths" yaml:"paths" json:"paths"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string `mapstructure:"level" yaml:"level" json:"level"`
	Format  string `mapstructure:"format" yaml:"format" json:"format"`
	Verbose bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
}

// PreprocessConfig contains page normalization settings.
type PreprocessConfig struct {
	MinDPI                 float64      `mapstructure:"min_dpi" yaml:"min_dpi" json:"min_dpi"`
	AssumedPageWidthInches float64      `mapstructure:"assumed_page_width_inches" yaml:"assumed_page_width_inches" json:"assumed_page_width_inches"`
	ContrastNormalize      bool         `mapstructure:"contrast_normalize" yaml:"contrast_normalize" json:"contrast_normalize"`
	Denoise                bool         `mapstructure:"denoise" yaml:"denoise" json:"denoise"`
	Binarize               bool         `mapstructure:"binarize" yaml:"binarize" json:"binarize"`
	Deskew                 DeskewConfig `mapstructure:"deskew" yaml:"deskew" json:"deskew"`
}

// DeskewConfig contains skew estimation settings.
type DeskewConfig struct {
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxAngle      float64 `mapstructure:"max_angle" yaml:"max_angle" json:"max_angle"`
	Step          float64 `mapstructure:"step" yaml:"step" json:"step"`
	MinSharpness  float64 `mapstructure:"min_sharpness" yaml:"min_sharpness" json:"min_sharpness"`
	AnalysisWidth int     `mapstructure:"analysis_width" yaml:"analysis_width" json:"analysis_width"`
	MaxSamples    int     `mapstructure:"max_samples" yaml:"max_samples" json:"max_samples"`
}

// OCRConfig contains OCR backend settings.
type OCRConfig struct {
	Backend       string          `mapstructure:"backend" yaml:"backend" json:"backend"`
	Language      string          `mapstructure:"language" yaml:"language" json:"language"`
	LowConfidence float64         `mapstructure:"low_confidence" yaml:"low_confidence" json:"low_confidence"`
	Barcodes      bool            `mapstructure:"barcodes" yaml:"barcodes" json:"barcodes"`
	Tesseract     TesseractConfig `mapstructure:"tesseract" yaml:"tesseract" json:"tesseract"`
	Azure         AzureConfig     `mapstructure:"azure" yaml:"azure" json:"azure"`
	Static        StaticConfig    `mapstructure:"static" yaml:"static" json:"static"`
	Remote        RemoteConfig    `mapstructure:"remote" yaml:"remote" json:"remote"`
}

// TesseractConfig contains tesseract CLI settings.
type TesseractConfig struct {
	Binary      string `mapstructure:"binary" yaml:"binary" json:"binary"`
	PSM         int    `mapstructure:"psm" yaml:"psm" json:"psm"`
	OEM         int    `mapstructure:"oem" yaml:"oem" json:"oem"`
	TessdataDir string `mapstructure:"tessdata_dir" yaml:"tessdata_dir" json:"tessdata_dir"`
}

// AzureConfig contains Azure Computer Vision settings.
type AzureConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Key      string        `mapstructure:"key" yaml:"key" json:"-"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// StaticConfig contains fixture replay settings.
type StaticConfig struct {
	FixturePath string `mapstructure:"fixture_path" yaml:"fixture_path" json:"fixture_path"`
}

// RemoteConfig contains rate limit and circuit breaker settings for network
// backends.
type RemoteConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst" json:"burst"`
	FailureThreshold  uint32        `mapstructure:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`
	OpenTimeout       time.Duration `mapstructure:"open_timeout" yaml:"open_timeout" json:"open_timeout"`
}

// LayoutConfig contains layout reconstruction settings.
type LayoutConfig struct {
	LineOverlap     float64 `mapstructure:"line_overlap" yaml:"line_overlap" json:"line_overlap"`
	BlockGapFactor  float64 `mapstructure:"block_gap_factor" yaml:"block_gap_factor" json:"block_gap_factor"`
	ColumnGapFactor float64 `mapstructure:"column_gap_factor" yaml:"column_gap_factor" json:"column_gap_factor"`
	MinTableRows    int     `mapstructure:"min_table_rows" yaml:"min_table_rows" json:"min_table_rows"`
	TokenOverlapIoU float64 `mapstructure:"token_overlap_iou" yaml:"token_overlap_iou" json:"token_overlap_iou"`
	HeaderFraction  float64 `mapstructure:"header_fraction" yaml:"header_fraction" json:"header_fraction"`
}

// PipelineConfig contains orchestration settings.
type PipelineConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	MaxWorkers int           `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host" json:"host"`
	Port            int           `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string        `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int           `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int           `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst" json:"rate_burst"`
	MetricsEnabled  bool          `mapstructure:"metrics_enabled" yaml:"metrics_enabled" json:"metrics_enabled"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers         int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive       bool     `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	Include         []string `mapstructure:"include" yaml:"include" json:"include"`
	Exclude         []string `mapstructure:"exclude" yaml:"exclude" json:"exclude"`
	Format          string   `mapstructure:"format" yaml:"format" json:"format"`
	OutputFile      string   `mapstructure:"output_file" yaml:"output_file" json:"output_file"`
	ContinueOnError bool     `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// DatabaseConfig contains Postgres settings. An empty DSN disables the
// repository.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn" json:"-"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate" yaml:"migrate" json:"migrate"`
}

// StorageConfig contains MinIO settings. An empty endpoint disables the
// upload archive.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key" json:"-"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key" json:"-"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Region    string `mapstructure:"region" yaml:"region" json:"region"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl" json:"use_ssl"`
}

// CacheConfig contains result cache settings.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Dir      string        `mapstructure:"dir" yaml:"dir" json:"dir"`
	InMemory bool          `mapstructure:"in_memory" yaml:"in_memory" json:"in_memory"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// PathsConfig contains working directories.
type PathsConfig struct {
	Uploads string `mapstructure:"uploads" yaml:"uploads" json:"uploads"`
	Output  string `mapstructure:"output" yaml:"output" json:"output"`
	Logs    string `mapstructure:"logs" yaml:"logs" json:"logs"`
}
