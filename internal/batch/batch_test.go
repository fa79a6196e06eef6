package batch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/testutil"
)

func TestProcessBatch(t *testing.T) {
	dir := writeTree(t, "good-1.png", "bad.png", "good-2.pdf", "readme.md")
	p := &fakeProcessor{}

	res, err := ProcessBatch(context.Background(), p, []string{dir}, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, res.Files, 3)
	require.Len(t, res.Results, 3)
	assert.EqualValues(t, 3, p.calls.Load())
	assert.Equal(t, 4, res.WorkerCount)
	assert.Equal(t, 1, res.Failed())
	assert.Equal(t, 2, res.Verdicts()[model.VerdictAccepted])

	for i, it := range res.Results {
		assert.Equal(t, res.Files[i], it.File)
		assert.Equal(t, filepath.Base(it.File), it.Result.Name)
	}
}

func TestProcessBatch_StopOnFailure(t *testing.T) {
	dir := writeTree(t, "good.png", "bad.png")
	cfg := DefaultConfig()
	cfg.ContinueOnError = false

	res, err := ProcessBatch(context.Background(), &fakeProcessor{}, []string{dir}, cfg)
	require.ErrorIs(t, err, ErrFailedDocuments)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Failed())
}

func TestProcessBatch_Errors(t *testing.T) {
	cfg := DefaultConfig()

	_, err := ProcessBatch(context.Background(), &fakeProcessor{}, []string{writeTree(t, "notes.txt")}, cfg)
	require.ErrorContains(t, err, "no supported files")

	_, err = ProcessBatch(context.Background(), &fakeProcessor{}, []string{filepath.Join(t.TempDir(), "nope")}, cfg)
	require.ErrorContains(t, err, "failed to discover")

	cfg.Workers = 0
	_, err = ProcessBatch(context.Background(), &fakeProcessor{}, []string{t.TempDir()}, cfg)
	require.ErrorContains(t, err, "invalid workers")
}

func TestLoadDocuments_UnreadableFileBecomesEmpty(t *testing.T) {
	dir := writeTree(t, "good.png")
	docs := loadDocuments([]string{filepath.Join(dir, "good.png"), filepath.Join(dir, "gone.png")})
	require.Len(t, docs, 2)
	assert.Equal(t, []byte("data"), docs[0].Data)
	assert.Equal(t, "gone.png", docs[1].Name)
	assert.Empty(t, docs[1].Data)
}

func TestSaveResultsAndStats(t *testing.T) {
	dir := writeTree(t, "good.png", "bad.png")
	res, err := ProcessBatch(context.Background(), &fakeProcessor{}, []string{dir}, DefaultConfig())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, res.SaveResults(&buf, FormatCSV, "", false))
	assert.Contains(t, buf.String(), "file,status,verdict")

	out := filepath.Join(t.TempDir(), "report.json")
	buf.Reset()
	require.NoError(t, res.SaveResults(&buf, FormatJSON, out, false))
	assert.Contains(t, buf.String(), "Results written to")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"documents"`)

	buf.Reset()
	res.PrintStats(&buf, false)
	assert.Contains(t, buf.String(), "Total documents: 2")
	assert.Contains(t, buf.String(), "Accepted: 1")
	assert.Contains(t, buf.String(), "Failed: 1")

	buf.Reset()
	res.PrintStats(&buf, true)
	assert.Empty(t, buf.String())
}

func TestBuildPipeline_RunsBatch(t *testing.T) {
	cfg := testPipelineConfig(t)
	bc := DefaultConfig()
	bc.Workers = 2
	bc.Quiet = true

	p, err := BuildPipeline(cfg, bc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	assert.Equal(t, 2, p.Config().Parallel.MaxWorkers)

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "broken.png", []byte("not an image"))
	res, err := ProcessBatch(context.Background(), p, []string{dir}, bc)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	require.NotNil(t, res.Results[0].Result.Failure)
	assert.Equal(t, model.KindPreprocess, res.Results[0].Result.Failure.Kind)
}

func TestProgressCallbackSelection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quiet = true
	assert.Nil(t, progressCallback(cfg))

	cfg.Quiet = false
	cfg.Progress = &bytes.Buffer{}
	assert.NotNil(t, progressCallback(cfg))

	cfg.ShowProgress = false
	cfg.ProgressInterval = 0
	assert.NotNil(t, progressCallback(cfg))
}
