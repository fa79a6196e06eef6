package batch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
	"github.com/MeKo-Tech/medinvoice/internal/testutil"
)

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(nil, WatchOptions{OutputDir: t.TempDir()})
	require.Error(t, err)
	_, err = NewWatcher(&fakeProcessor{}, WatchOptions{})
	require.Error(t, err)

	w, err := NewWatcher(&fakeProcessor{}, WatchOptions{OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.opts.Debounce)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "scan-01.json"), OutputPath("out", "/in/scan-01.png"))
	assert.Equal(t, filepath.Join("out", "a.b.json"), OutputPath("out", "a.b.pdf"))
}

func TestWatcher_ProcessFileOnce(t *testing.T) {
	in := writeTree(t, "good.png")
	out := t.TempDir()
	p := &fakeProcessor{}
	w, err := NewWatcher(p, WatchOptions{OutputDir: out})
	require.NoError(t, err)

	path := filepath.Join(in, "good.png")
	written, err := w.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "good.json"), written)

	data, err := os.ReadFile(written)
	require.NoError(t, err)
	var got pipeline.Output
	require.NoError(t, json.Unmarshal(data, &got))
	require.NotNil(t, got.Record)
	assert.Equal(t, "42.50", got.Record.Total)

	written, err = w.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, written)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestWatcher_ProcessFileMissing(t *testing.T) {
	w, err := NewWatcher(&fakeProcessor{}, WatchOptions{OutputDir: t.TempDir()})
	require.NoError(t, err)
	_, err = w.ProcessFile(context.Background(), filepath.Join(t.TempDir(), "gone.png"))
	require.ErrorContains(t, err, "failed to read")
}

type processedLog struct {
	mu    sync.Mutex
	files []string
}

func (l *processedLog) add(file, _ string, _ *pipeline.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files = append(l.files, filepath.Base(file))
}

func (l *processedLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.files...)
}

func TestWatcher_Run(t *testing.T) {
	in := writeTree(t, "existing.png")
	out := filepath.Join(t.TempDir(), "results")
	log := &processedLog{}
	p := &fakeProcessor{}

	w, err := NewWatcher(p, WatchOptions{
		OutputDir:       out,
		Debounce:        20 * time.Millisecond,
		ExcludePatterns: []string{"skip-*"},
		ProcessExisting: true,
		OnProcessed:     log.add,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, in) }()

	require.Eventually(t, func() bool {
		return len(log.list()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	testutil.WriteFile(t, in, "new.pdf", []byte("data"))
	testutil.WriteFile(t, in, "skip-me.png", []byte("data"))
	testutil.WriteFile(t, in, "notes.txt", []byte("data"))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(out, "new.json"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []string{"existing.png", "new.pdf"}, log.list())
	assert.EqualValues(t, 2, p.calls.Load())
	assert.NoFileExists(t, filepath.Join(out, "skip-me.json"))
	assert.NoFileExists(t, filepath.Join(out, "notes.json"))
}

func TestWatcher_RunMissingDir(t *testing.T) {
	w, err := NewWatcher(&fakeProcessor{}, WatchOptions{OutputDir: t.TempDir()})
	require.NoError(t, err)
	err = w.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.ErrorContains(t, err, "failed to watch")
}
