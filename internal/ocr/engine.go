// Package ocr adapts pluggable text recognition backends to the token
// stream consumed by layout reconstruction.
package ocr

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// Engine is the capability every OCR backend implements. Implementations
// must be safe for concurrent use.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image, page int) ([]model.Token, error)
	Close() error
}

// Factory builds an engine from configuration.
type Factory func(cfg Config) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Backends lists registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// NewEngine builds the backend selected by cfg.Backend.
func NewEngine(cfg Config) (Engine, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ocr backend %q (available: %v)", cfg.Backend, Backends())
	}
	return f(cfg)
}

// Config selects and tunes the OCR backend.
type Config struct {
	Backend  string `json:"backend"`
	Language string `json:"language"`
	// LowConfidence flags tokens below this value.
	LowConfidence float64 `json:"low_confidence"`
	// Barcodes appends decoded barcode payloads to the token stream.
	Barcodes bool `json:"barcodes"`

	Tesseract TesseractConfig `json:"tesseract"`
	Azure     AzureConfig     `json:"azure"`
	Static    StaticConfig    `json:"static"`
	Remote    RemoteConfig    `json:"remote"`
}

// TesseractConfig configures the tesseract command line backend.
type TesseractConfig struct {
	Binary      string `json:"binary"`
	PSM         int    `json:"psm"`
	OEM         int    `json:"oem"`
	TessdataDir string `json:"tessdata_dir"`
}

// AzureConfig configures the Azure Computer Vision backend.
type AzureConfig struct {
	Endpoint string        `json:"endpoint"`
	Key      string        `json:"-"`
	Timeout  time.Duration `json:"timeout"`
}

// StaticConfig configures fixture replay.
type StaticConfig struct {
	FixturePath string `json:"fixture_path"`
}

// RemoteConfig guards network backends with a limiter and a circuit breaker.
type RemoteConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
	FailureThreshold  uint32        `json:"failure_threshold"`
	OpenTimeout       time.Duration `json:"open_timeout"`
}

// DefaultConfig returns the default OCR configuration.
func DefaultConfig() Config {
	return Config{
		Backend:       "tesseract",
		Language:      "eng",
		LowConfidence: 0.5,
		Tesseract: TesseractConfig{
			Binary: "tesseract",
			PSM:    6,
		},
		Azure: AzureConfig{Timeout: 30 * time.Second},
		Remote: RemoteConfig{
			RequestsPerSecond: 5,
			Burst:             5,
			FailureThreshold:  5,
			OpenTimeout:       30 * time.Second,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Backend == "" {
		return fmt.Errorf("ocr backend must be set")
	}
	if c.LowConfidence < 0 || c.LowConfidence > 1 {
		return fmt.Errorf("ocr low confidence must be in [0,1], got %v", c.LowConfidence)
	}
	if c.Backend == "azure" && c.Azure.Endpoint == "" {
		return fmt.Errorf("azure backend requires an endpoint")
	}
	return nil
}
