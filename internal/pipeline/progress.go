package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback reports batch progress. Calls may come from several
// goroutines; implementations synchronize themselves.
type ProgressCallback interface {
	// OnStart is called once with the number of documents in the batch.
	OnStart(total int)
	// OnProgress is called after every finished document.
	OnProgress(current, total int)
	// OnComplete is called when the whole batch is done.
	OnComplete()
	// OnError is called for every failed document with its batch index.
	OnError(index int, err error)
}

// NoOpProgressCallback discards all progress.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)         {}
func (NoOpProgressCallback) OnProgress(int, int) {}
func (NoOpProgressCallback) OnComplete()         {}
func (NoOpProgressCallback) OnError(int, error)  {}

// ConsoleProgressCallback draws a progress bar.
type ConsoleProgressCallback struct {
	writer         io.Writer
	prefix         string
	width          int
	updateInterval time.Duration
	showRate       bool

	mu         sync.Mutex
	startTime  time.Time
	lastUpdate time.Time
}

// NewConsoleProgressCallback creates a console progress reporter writing to
// writer, stderr when nil.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer:         writer,
		prefix:         prefix,
		width:          40,
		updateInterval: 100 * time.Millisecond,
		showRate:       true,
	}
}

// WithWidth sets the bar width.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	if width > 0 {
		c.width = width
	}
	return c
}

// WithRate toggles the documents per second display.
func (c *ConsoleProgressCallback) WithRate(show bool) *ConsoleProgressCallback {
	c.showRate = show
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	_, _ = fmt.Fprintf(c.writer, "%s0/%d documents\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnProgress(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && current < total {
		return
	}
	c.lastUpdate = now
	if total == 0 {
		return
	}
	filled := c.width * current / total
	status := fmt.Sprintf("\r%s[%s%s] %d/%d",
		c.prefix, strings.Repeat("#", filled), strings.Repeat(".", c.width-filled), current, total)
	if elapsed := now.Sub(c.startTime); c.showRate && elapsed > 0 && current > 0 {
		status += fmt.Sprintf(" %.1f docs/s", float64(current)/elapsed.Seconds())
	}
	_, _ = fmt.Fprint(c.writer, status)
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%sdone in %v\n", c.prefix, time.Since(c.startTime).Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnError(index int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%sdocument %d failed: %v\n", c.prefix, index, err)
}

// LogProgressCallback logs progress with slog.
type LogProgressCallback struct {
	logger   *slog.Logger
	level    slog.Level
	interval int

	mu        sync.Mutex
	lastLog   int
	startTime time.Time
}

// NewLogProgressCallback creates a log based reporter. A nil logger uses
// slog.Default.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, interval: 10}
}

// WithInterval logs every n documents.
func (l *LogProgressCallback) WithInterval(n int) *LogProgressCallback {
	if n > 0 {
		l.interval = n
	}
	return l
}

func (l *LogProgressCallback) OnStart(total int) {
	l.mu.Lock()
	l.startTime = time.Now()
	l.lastLog = 0
	l.mu.Unlock()
	l.logger.Log(nil, l.level, "batch started", "total", total)
}

func (l *LogProgressCallback) OnProgress(current, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current-l.lastLog < l.interval && current != total {
		return
	}
	l.lastLog = current
	l.logger.Log(nil, l.level, "batch progress",
		"current", current,
		"total", total,
		"elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgressCallback) OnComplete() {
	l.mu.Lock()
	elapsed := time.Since(l.startTime)
	l.mu.Unlock()
	l.logger.Log(nil, l.level, "batch completed", "elapsed", elapsed.Round(time.Millisecond))
}

func (l *LogProgressCallback) OnError(index int, err error) {
	l.logger.Error("batch document failed", "index", index, "error", err)
}

// MultiProgressCallback fans out to several callbacks.
type MultiProgressCallback struct {
	callbacks []ProgressCallback
}

// NewMultiProgressCallback combines callbacks; nil entries are skipped.
func NewMultiProgressCallback(callbacks ...ProgressCallback) *MultiProgressCallback {
	m := &MultiProgressCallback{}
	for _, cb := range callbacks {
		m.Add(cb)
	}
	return m
}

// Add appends a callback.
func (m *MultiProgressCallback) Add(cb ProgressCallback) {
	if cb != nil {
		m.callbacks = append(m.callbacks, cb)
	}
}

func (m *MultiProgressCallback) OnStart(total int) {
	for _, cb := range m.callbacks {
		cb.OnStart(total)
	}
}

func (m *MultiProgressCallback) OnProgress(current, total int) {
	for _, cb := range m.callbacks {
		cb.OnProgress(current, total)
	}
}

func (m *MultiProgressCallback) OnComplete() {
	for _, cb := range m.callbacks {
		cb.OnComplete()
	}
}

func (m *MultiProgressCallback) OnError(index int, err error) {
	for _, cb := range m.callbacks {
		cb.OnError(index, err)
	}
}

// ProgressTracker counts batch progress. It implements ProgressCallback and
// can be polled from another goroutine.
type ProgressTracker struct {
	mu        sync.RWMutex
	startTime time.Time
	total     int
	current   int
	failed    int
	completed bool
}

// ProgressStats is a snapshot of a ProgressTracker.
type ProgressStats struct {
	Total     int           `json:"total"`
	Current   int           `json:"current"`
	Failed    int           `json:"failed"`
	Completed bool          `json:"completed"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// NewProgressTracker creates an idle tracker.
func NewProgressTracker() *ProgressTracker { return &ProgressTracker{} }

func (pt *ProgressTracker) OnStart(total int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.startTime = time.Now()
	pt.total = total
	pt.current, pt.failed, pt.completed = 0, 0, false
}

func (pt *ProgressTracker) OnProgress(current, _ int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if current > pt.current {
		pt.current = current
	}
}

func (pt *ProgressTracker) OnComplete() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.completed = true
}

func (pt *ProgressTracker) OnError(int, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.failed++
}

// Stats returns a snapshot.
func (pt *ProgressTracker) Stats() ProgressStats {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	s := ProgressStats{Total: pt.total, Current: pt.current, Failed: pt.failed, Completed: pt.completed}
	if !pt.startTime.IsZero() {
		s.Elapsed = time.Since(pt.startTime)
	}
	return s
}

// PercentComplete returns the completion percentage.
func (s ProgressStats) PercentComplete() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Current) / float64(s.Total) * 100
}
