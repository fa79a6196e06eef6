package batch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatText = "text"
)

// Config holds all configuration for batch processing.
type Config struct {
	// Parallel processing settings
	Workers int

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Output settings
	Format          string
	OutputFile      string
	ContinueOnError bool

	// Progress settings
	ShowProgress     bool
	Quiet            bool
	ProgressInterval int
	Progress         io.Writer
}

// DefaultConfig returns batch defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:          4,
		Recursive:        true,
		Format:           FormatText,
		ContinueOnError:  true,
		ShowProgress:     true,
		ProgressInterval: 1,
		Progress:         os.Stderr,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("invalid workers: %d (must be positive)", c.Workers)
	}
	if c.Format != "" && !slices.Contains([]string{FormatJSON, FormatCSV, FormatText}, c.Format) {
		return fmt.Errorf("invalid format: %s (must be json, csv or text)", c.Format)
	}
	for _, p := range append(slices.Clone(c.IncludePatterns), c.ExcludePatterns...) {
		if _, err := matchPattern(p, "probe"); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}
	return nil
}

// ErrFailedDocuments is returned when documents failed and ContinueOnError
// is off.
var ErrFailedDocuments = errors.New("batch contains failed documents")

// Result holds the result of batch processing.
type Result struct {
	Files       []string
	Results     []*Item
	Duration    time.Duration
	WorkerCount int
}
