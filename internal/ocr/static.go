package ocr

import (
	"context"
	"fmt"
	"image"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/utils"
)

func init() {
	Register("static", func(cfg Config) (Engine, error) {
		if cfg.Static.FixturePath == "" {
			return NewStaticEngine(nil), nil
		}
		return LoadStaticEngine(cfg.Static.FixturePath)
	})
}

// blankInkRatio is the ink fraction under which a page counts as blank.
const blankInkRatio = 0.0005

// StaticEngine replays fixture tokens. Pages without ink yield no tokens so
// blank scans behave like they would with a real backend.
type StaticEngine struct {
	pages map[int][]model.Token
}

// NewStaticEngine creates an engine replaying pages keyed by page index.
func NewStaticEngine(pages map[int][]model.Token) *StaticEngine {
	if pages == nil {
		pages = map[int][]model.Token{}
	}
	return &StaticEngine{pages: pages}
}

type fixtureToken struct {
	Text string  `yaml:"text"`
	X    int     `yaml:"x"`
	Y    int     `yaml:"y"`
	W    int     `yaml:"w"`
	H    int     `yaml:"h"`
	Conf float64 `yaml:"conf"`
}

type fixtureFile struct {
	Pages []struct {
		Page   int            `yaml:"page"`
		Tokens []fixtureToken `yaml:"tokens"`
	} `yaml:"pages"`
}

// ParseStaticFixture decodes a YAML fixture.
func ParseStaticFixture(data []byte) (*StaticEngine, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse ocr fixture: %w", err)
	}
	pages := make(map[int][]model.Token, len(f.Pages))
	for _, p := range f.Pages {
		for _, t := range p.Tokens {
			pages[p.Page] = append(pages[p.Page], model.Token{
				Text:       t.Text,
				Box:        model.BBox{X: t.X, Y: t.Y, W: t.W, H: t.H},
				Confidence: t.Conf,
				Page:       p.Page,
			})
		}
	}
	return NewStaticEngine(pages), nil
}

// LoadStaticEngine reads a YAML fixture from disk.
func LoadStaticEngine(path string) (*StaticEngine, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: fixture path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read ocr fixture: %w", err)
	}
	return ParseStaticFixture(data)
}

// Name implements Engine.
func (s *StaticEngine) Name() string { return "static" }

// Recognize implements Engine.
func (s *StaticEngine) Recognize(_ context.Context, img image.Image, page int) ([]model.Token, error) {
	if img != nil {
		q, err := utils.AssessImageQuality(img)
		if err == nil && q.InkRatio < blankInkRatio {
			return nil, nil
		}
	}
	toks := s.pages[page]
	out := make([]model.Token, len(toks))
	copy(out, toks)
	return out, nil
}

// Close implements Engine.
func (s *StaticEngine) Close() error { return nil }
