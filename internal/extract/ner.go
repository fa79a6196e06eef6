package extract

import (
	"fmt"
	"strings"
	"unicode"
)

// Entity labels produced by NER backends.
const (
	LabelOrg   = "ORG"
	LabelDate  = "DATE"
	LabelMoney = "MONEY"
)

// NER backend names.
const (
	NERLexicon = "lexicon"
	NERONNX    = "onnx"
	NERNone    = "none"
)

// Entity is a labelled span of a block's text. Start and End are rune offsets.
type Entity struct {
	Label string
	Start int
	End   int
	Text  string
	Score float64
}

// NER tags ORG, DATE and MONEY spans in text. Implementations must be safe
// for concurrent use.
type NER interface {
	Name() string
	Tag(text string) ([]Entity, error)
	Close() error
}

// NERConfig selects and configures the statistical pass.
type NERConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend" json:"backend"`
	ModelPath   string `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	MaxSequence int    `mapstructure:"max_sequence" yaml:"max_sequence" json:"max_sequence"`
	LibraryPath string `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	UseGPU      bool   `mapstructure:"use_gpu" yaml:"use_gpu" json:"use_gpu"`
}

// NewNER builds the configured backend.
func NewNER(cfg NERConfig) (NER, error) {
	switch cfg.Backend {
	case NERLexicon, "":
		if cfg.ModelPath == "" {
			return DefaultLexicon(), nil
		}
		l, err := LoadLexicon(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		return l, nil
	case NERONNX:
		n, err := NewONNXNER(cfg)
		if err != nil {
			return nil, err
		}
		return n, nil
	case NERNone:
		return noNER{}, nil
	default:
		return nil, fmt.Errorf("unknown NER backend %q", cfg.Backend)
	}
}

type noNER struct{}

func (noNER) Name() string                 { return NERNone }
func (noNER) Tag(string) ([]Entity, error) { return nil, nil }
func (noNER) Close() error                 { return nil }

// word is a whitespace separated word with rune offsets into the tagged text.
type word struct {
	text       string
	start, end int
	line       int
}

// splitWords splits text on whitespace, tracking lines.
func splitWords(text string) []word {
	var out []word
	ln := 0
	start := -1
	pos := 0
	var cur []rune
	flush := func() {
		if start >= 0 {
			out = append(out, word{text: string(cur), start: start, end: pos, line: ln})
			start = -1
			cur = cur[:0]
		}
	}
	for _, r := range text {
		if unicode.IsSpace(r) {
			flush()
			if r == '\n' {
				ln++
			}
		} else {
			if start < 0 {
				start = pos
			}
			cur = append(cur, r)
		}
		pos++
	}
	flush()
	return out
}

// normWord lowercases a word and strips surrounding punctuation.
func normWord(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}
