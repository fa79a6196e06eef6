package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

func init() {
	Register("tesseract", func(cfg Config) (Engine, error) {
		return NewTesseractEngine(cfg, ExecRunner{}), nil
	})
}

// Runner executes an external command feeding stdin.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: binary path comes from configuration
	cmd.Stdin = bytes.NewReader(stdin)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// TesseractEngine shells out to the tesseract CLI in TSV mode.
type TesseractEngine struct {
	cfg    TesseractConfig
	lang   string
	runner Runner
}

// NewTesseractEngine creates the CLI backend.
func NewTesseractEngine(cfg Config, runner Runner) *TesseractEngine {
	return &TesseractEngine{cfg: cfg.Tesseract, lang: cfg.Language, runner: runner}
}

// Name implements Engine.
func (e *TesseractEngine) Name() string { return "tesseract" }

// Available reports whether the binary can be found.
func (e *TesseractEngine) Available() bool {
	_, err := exec.LookPath(e.cfg.Binary)
	return err == nil
}

// Recognize implements Engine.
func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image, page int) ([]model.Token, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page for tesseract: %w", err)
	}
	args := []string{"stdin", "stdout", "-l", e.lang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, buf.Bytes(), e.cfg.Binary, args...)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
		}
		return nil, fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	return ParseTSV(out, page)
}

// Close implements Engine.
func (e *TesseractEngine) Close() error { return nil }

// ParseTSV converts tesseract TSV output into word tokens. Confidence is
// reported 0..100 by tesseract and scaled to 0..1.
func ParseTSV(data []byte, page int) ([]model.Token, error) {
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "level") {
		return nil, errors.New("tesseract: missing TSV header")
	}
	var toks []model.Token
	for _, ln := range lines[1:] {
		ln = strings.TrimRight(ln, "\r")
		if ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		nums := make([]int, 4)
		ok := true
		for i := range nums {
			v, err := strconv.Atoi(cols[6+i])
			if err != nil {
				ok = false
				break
			}
			nums[i] = v
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if !ok || err != nil || conf < 0 {
			continue
		}
		toks = append(toks, model.Token{
			Text:       text,
			Box:        model.BBox{X: nums[0], Y: nums[1], W: nums[2], H: nums[3]},
			Confidence: conf / 100,
			Page:       page,
		})
	}
	return toks, nil
}
