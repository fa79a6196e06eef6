package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// Config configures the field extractor.
type Config struct {
	NER            NERConfig `mapstructure:"ner" yaml:"ner" json:"ner"`
	AgreementBoost float64   `mapstructure:"agreement_boost" yaml:"agreement_boost" json:"agreement_boost"`
	DateOrder      string    `mapstructure:"date_order" yaml:"date_order" json:"date_order"`
	// MinAlternativeConfidence gates which alternative token readings are
	// scanned as competing candidates.
	MinAlternativeConfidence float64 `mapstructure:"min_alternative_confidence" yaml:"min_alternative_confidence" json:"min_alternative_confidence"`
}

// DefaultConfig returns the default extractor configuration.
func DefaultConfig() Config {
	return Config{
		NER:                      NERConfig{Backend: NERLexicon, MaxSequence: defaultMaxSequence},
		AgreementBoost:           DefaultAgreementBoost,
		DateOrder:                OrderMDY,
		MinAlternativeConfidence: 0.5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.AgreementBoost < 0 || c.AgreementBoost > 0.5 {
		return fmt.Errorf("agreement boost %.2f outside [0,0.5]", c.AgreementBoost)
	}
	if c.DateOrder != OrderMDY && c.DateOrder != OrderDMY {
		return fmt.Errorf("date order must be %s or %s, got %q", OrderMDY, OrderDMY, c.DateOrder)
	}
	if c.MinAlternativeConfidence < 0 || c.MinAlternativeConfidence > 1 {
		return fmt.Errorf("min alternative confidence %.2f outside [0,1]", c.MinAlternativeConfidence)
	}
	switch c.NER.Backend {
	case NERLexicon, NERONNX, NERNone, "":
	default:
		return fmt.Errorf("unknown NER backend %q", c.NER.Backend)
	}
	return nil
}

// Extractor runs the rule and statistical passes over layout blocks.
type Extractor struct {
	cfg Config
	ner NER
}

// New builds an extractor. A nil ner disables the statistical pass.
func New(cfg Config, ner NER) *Extractor {
	if ner == nil {
		ner = noNER{}
	}
	return &Extractor{cfg: cfg, ner: ner}
}

// NER returns the statistical backend.
func (e *Extractor) NER() NER { return e.ner }

// Close releases the NER backend.
func (e *Extractor) Close() error { return e.ner.Close() }

// Extract produces candidate fields for blocks, sorted by block, offset and
// kind. Zero fields is a valid result; only malformed input is an error.
func (e *Extractor) Extract(ctx context.Context, blocks []model.Block) ([]model.ExtractedField, error) {
	if err := checkBlocks(blocks); err != nil {
		return nil, err
	}
	var out []model.ExtractedField
	header := firstHeader(blocks)
	for bi, b := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ib := indexBlock(b)
		rules := e.rulePass(ib, bi == header)

		ents, err := e.ner.Tag(ib.text)
		if err != nil {
			slog.Warn("NER pass failed, using rule candidates only",
				"backend", e.ner.Name(), "block", b.Index, "error", err)
			ents = nil
		}
		out = append(out, merge(ib, rules, ents, e.cfg.AgreementBoost, e.cfg.DateOrder)...)
	}
	for i := range out {
		out[i].Confidence = model.ClampConfidence(out[i].Confidence)
	}
	model.SortFields(out)
	return out, nil
}

func checkBlocks(blocks []model.Block) error {
	if len(blocks) == 0 {
		return &model.ExtractionError{Reason: "empty block sequence"}
	}
	seen := make(map[int]bool, len(blocks))
	for _, b := range blocks {
		if seen[b.Index] {
			return &model.ExtractionError{Reason: fmt.Sprintf("duplicate block index %d", b.Index)}
		}
		seen[b.Index] = true
		if len(b.Lines) == 0 {
			return &model.ExtractionError{Reason: fmt.Sprintf("block %d has no lines", b.Index)}
		}
	}
	return nil
}

// firstHeader returns the position of the first header block, -1 without one.
func firstHeader(blocks []model.Block) int {
	for i, b := range blocks {
		if b.Kind == model.BlockHeader {
			return i
		}
	}
	return -1
}

// rulePass scans every line of the block plus its alternative token readings.
func (e *Extractor) rulePass(ib indexedBlock, providerBlock bool) []model.ExtractedField {
	tableRow := ib.block.Kind == model.BlockTableRow
	var out []model.ExtractedField
	for _, ln := range ib.lines {
		lc := newLineContext(ln.text, tableRow, func(s, end int) float64 {
			return ln.confidence(s+ln.offset, end+ln.offset)
		})
		for _, f := range scanLine(lc, e.cfg.DateOrder) {
			out = append(out, e.anchor(ib, f, ln.offset))
		}
		out = append(out, e.alternatives(ib, ln, tableRow)...)
	}
	if tableRow {
		if item, ok := lineItem(ib, out); ok {
			out = append(out, item)
		}
	}
	if providerBlock {
		if f, ok := providerName(ib); ok {
			out = append(out, f)
		}
	}
	return out
}

// anchor converts line-local offsets into block offsets.
func (e *Extractor) anchor(ib indexedBlock, f model.ExtractedField, lineOffset int) model.ExtractedField {
	f.Span = ib.span(f.Span.Start+lineOffset, f.Span.End+lineOffset)
	return f
}

// alternatives rescans a line once per sufficiently confident alternative
// reading of each token and keeps the matches that touch the substituted
// token. They compete with the primary reading in validation.
func (e *Extractor) alternatives(ib indexedBlock, ln line, tableRow bool) []model.ExtractedField {
	var out []model.ExtractedField
	for ti, ts := range ln.tokens {
		for _, alt := range ts.token.Alternatives {
			if alt.Confidence < e.cfg.MinAlternativeConfidence || alt.Text == ts.token.Text {
				continue
			}
			text, lo, hi := substitute(ln, ti, alt.Text)
			altConf := alt.Confidence
			lc := newLineContext(text, tableRow, func(s, end int) float64 {
				if s < hi && lo < end {
					return altConf
				}
				return ln.confidence(s+ln.offset, end+ln.offset)
			})
			for _, f := range scanLine(lc, e.cfg.DateOrder) {
				if f.Span.End <= lo || f.Span.Start >= hi {
					continue
				}
				f.Span.Start, f.Span.End = ts.start-ln.offset, ts.end-ln.offset
				out = append(out, e.anchor(ib, f, ln.offset))
			}
		}
	}
	return out
}

// substitute replaces token ti of the line with alt and returns the new text
// plus the line-local rune range of the replacement.
func substitute(ln line, ti int, alt string) (string, int, int) {
	parts := make([]string, len(ln.tokens))
	for i, ts := range ln.tokens {
		parts[i] = ts.token.Text
	}
	parts[ti] = alt
	lo := ln.tokens[ti].start - ln.offset
	return strings.Join(parts, " "), lo, lo + utf8.RuneCountInString(alt)
}

var nonItemWords = []string{"subtotal", "tax", "balance", "due", "paid", "payment", "discount", "adjustment", "credit"}

// lineItem builds a line item from a table row whose last cell is an amount.
func lineItem(ib indexedBlock, cands []model.ExtractedField) (model.ExtractedField, bool) {
	b := ib.block
	if len(b.Cells) < 2 || len(ib.lines) != 1 {
		return model.ExtractedField{}, false
	}
	ln := ib.lines[0]
	if lc := newLineContext(ln.text, true, nil); lc.has("total") || lc.hasWord(nonItemWords...) {
		return model.ExtractedField{}, false
	}

	lastCell := b.Cells[len(b.Cells)-1]
	if len(lastCell) == 0 || len(lastCell) > len(ln.tokens) {
		return model.ExtractedField{}, false
	}
	lastStart := ln.tokens[len(ln.tokens)-len(lastCell)].start
	var amount *model.ExtractedField
	var code string
	for i := range cands {
		c := &cands[i]
		if c.Source != model.FromRule || c.Span.Block != b.Index {
			continue
		}
		if c.Kind == model.FieldAmount && c.Span.Start >= lastStart {
			if amount == nil || c.Span.Start > amount.Span.Start {
				amount = c
			}
		}
		if c.Kind == model.FieldCode && code == "" {
			code = c.Value
		}
	}
	if amount == nil {
		return model.ExtractedField{}, false
	}

	cells := b.CellTexts()
	desc := ""
	descConf := 0.0
	for i, txt := range cells[:len(cells)-1] {
		if !hasLetter(txt) || isCodeText(txt, code) {
			continue
		}
		desc = txt
		descConf = meanTokenConfidence(b.Cells[i])
		break
	}
	if desc == "" {
		return model.ExtractedField{}, false
	}

	end := ln.offset + utf8.RuneCountInString(ln.text)
	return model.ExtractedField{
		Kind:       model.FieldLineItem,
		Value:      desc,
		Amount:     amount.Amount,
		Code:       code,
		Span:       ib.span(ln.offset, end),
		Confidence: model.ClampConfidence(min(amount.Confidence, descConf)),
		Validation: model.Unverified,
		Source:     model.FromRule,
	}, true
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func isCodeText(txt, code string) bool {
	return code != "" && strings.TrimSpace(txt) == code
}

func meanTokenConfidence(toks []model.Token) float64 {
	if len(toks) == 0 {
		return 0
	}
	var sum float64
	for _, t := range toks {
		sum += t.Confidence
	}
	return sum / float64(len(toks))
}

const weightProviderLine = 0.5

// providerName proposes the first digit-free line of the header block as the
// provider name.
func providerName(ib indexedBlock) (model.ExtractedField, bool) {
	for _, ln := range ib.lines {
		txt := strings.TrimSpace(ln.text)
		if utf8.RuneCountInString(txt) < 2 || !hasLetter(txt) || strings.ContainsAny(txt, "0123456789:") {
			continue
		}
		end := ln.offset + utf8.RuneCountInString(ln.text)
		return model.ExtractedField{
			Kind:       model.FieldProviderID,
			Role:       model.RoleProviderName,
			Value:      txt,
			Span:       ib.span(ln.offset, end),
			Confidence: model.ClampConfidence(weightProviderLine * ln.confidence(ln.offset, end)),
			Validation: model.Unverified,
			Source:     model.FromRule,
		}, true
	}
	return model.ExtractedField{}, false
}

// IsExtractionError reports whether err is a malformed-input error.
func IsExtractionError(err error) bool {
	var ee *model.ExtractionError
	return errors.As(err, &ee)
}
