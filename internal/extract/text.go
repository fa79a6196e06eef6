package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// tokenSpan is a token's rune range inside its block text.
type tokenSpan struct {
	start, end int
	token      model.Token
}

// line is one text line of a block with its rune offset.
type line struct {
	text   string
	offset int
	tokens []tokenSpan
}

// indexedBlock maps between a block's text and its tokens.
type indexedBlock struct {
	block model.Block
	text  string
	lines []line
}

func indexBlock(b model.Block) indexedBlock {
	ib := indexedBlock{block: b}
	var sb strings.Builder
	pos := 0
	for li, toks := range b.Lines {
		if li > 0 {
			sb.WriteByte('\n')
			pos++
		}
		ln := line{offset: pos}
		var lb strings.Builder
		for ti, t := range toks {
			if ti > 0 {
				sb.WriteByte(' ')
				lb.WriteByte(' ')
				pos++
			}
			n := utf8.RuneCountInString(t.Text)
			ln.tokens = append(ln.tokens, tokenSpan{start: pos, end: pos + n, token: t})
			sb.WriteString(t.Text)
			lb.WriteString(t.Text)
			pos += n
		}
		ln.text = lb.String()
		ib.lines = append(ib.lines, ln)
	}
	ib.text = sb.String()
	return ib
}

// confidence averages the OCR confidence of tokens overlapping [start, end).
func (l line) confidence(start, end int) float64 {
	var sum float64
	n := 0
	for _, ts := range l.tokens {
		if ts.start < end && start < ts.end {
			sum += ts.token.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// span builds a model span for block-level rune offsets.
func (ib indexedBlock) span(start, end int) model.Span {
	return model.Span{Block: ib.block.Index, Start: start, End: end, Text: runeSlice(ib.text, start, end)}
}

// lineAt returns the line containing the block-level rune offset.
func (ib indexedBlock) lineAt(pos int) (line, bool) {
	for _, l := range ib.lines {
		if pos >= l.offset && pos <= l.offset+utf8.RuneCountInString(l.text) {
			return l, true
		}
	}
	return line{}, false
}

func runeSlice(s string, start, end int) string {
	r := []rune(s)
	if start < 0 {
		start = 0
	}
	if end > len(r) {
		end = len(r)
	}
	if start >= end {
		return ""
	}
	return string(r[start:end])
}

// runeOffset converts a byte offset in s to a rune offset.
func runeOffset(s string, byteOff int) int {
	return utf8.RuneCountInString(s[:byteOff])
}
