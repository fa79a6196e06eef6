package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
	"github.com/MeKo-Tech/medinvoice/internal/utils"
)

// DefaultDebounce is how long a file must stay quiet before it is processed.
const DefaultDebounce = 500 * time.Millisecond

// DocumentProcessor processes a single document.
type DocumentProcessor interface {
	Process(ctx context.Context, doc *model.Document) *pipeline.Result
}

// WatchOptions configures a Watcher.
type WatchOptions struct {
	OutputDir       string
	Debounce        time.Duration
	IncludePatterns []string
	ExcludePatterns []string
	// ProcessExisting handles files already present when the watch starts.
	ProcessExisting bool
	// OnProcessed is called after each document, with the written output path.
	OnProcessed func(file, output string, res *pipeline.Result)
	Logger      *slog.Logger
}

// Watcher processes documents dropped into a directory. Each file is handled
// once; its result is written to <OutputDir>/<name>.json.
type Watcher struct {
	p    DocumentProcessor
	opts WatchOptions
	log  *slog.Logger

	mu      sync.Mutex
	seen    map[string]struct{}
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher that feeds p.
func NewWatcher(p DocumentProcessor, opts WatchOptions) (*Watcher, error) {
	if p == nil {
		return nil, errors.New("processor is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		p:       p,
		opts:    opts,
		log:     logger.With("component", "watch"),
		seen:    make(map[string]struct{}),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run watches dir until ctx is canceled.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	if err := os.MkdirAll(w.opts.OutputDir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.log.Info("watching directory", "dir", dir, "output", w.opts.OutputDir)

	ready := make(chan string, 64)
	defer w.stopTimers()

	if w.opts.ProcessExisting {
		files, err := discoverInDirectory(dir, false, w.opts.IncludePatterns, w.opts.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, f := range files {
			w.schedule(ctx, f, ready)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.schedule(ctx, ev.Name, ready)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		case path := <-ready:
			if _, err := w.ProcessFile(ctx, path); err != nil {
				w.log.Error("failed to process file", "file", path, "error", err)
			}
		}
	}
}

// schedule queues path for processing once it has been quiet for the
// debounce period. Further writes restart the timer.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	if !utils.IsSupportedDocument(path) || !shouldIncludeFile(path, w.opts.IncludePatterns, w.opts.ExcludePatterns) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, done := w.seen[path]; done {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() {
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// ProcessFile processes one file and writes its result. A file already
// processed by this watcher is skipped and returns an empty path.
func (w *Watcher) ProcessFile(ctx context.Context, path string) (string, error) {
	w.mu.Lock()
	delete(w.pending, path)
	if _, done := w.seen[path]; done {
		w.mu.Unlock()
		return "", nil
	}
	w.seen[path] = struct{}{}
	w.mu.Unlock()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the watched directory
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	res := w.p.Process(ctx, model.NewDocument(filepath.Base(path), data, nil))
	bts, err := res.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	out := OutputPath(w.opts.OutputDir, path)
	if err := os.WriteFile(out, bts, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", out, err)
	}

	attrs := []any{"file", path, "output", out, "status", res.Status}
	if res.Record != nil {
		attrs = append(attrs, "verdict", res.Record.Verdict)
	}
	w.log.Info("document processed", attrs...)

	if w.opts.OnProcessed != nil {
		w.opts.OnProcessed(path, out, res)
	}
	return out, nil
}

// OutputPath returns the result file for input inside dir.
func OutputPath(dir, input string) string {
	base := filepath.Base(input)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".json")
}
