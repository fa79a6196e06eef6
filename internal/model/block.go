package model

import "strings"

// BlockKind tags a block.
type BlockKind string

const (
	BlockParagraph BlockKind = "paragraph"
	BlockTableRow  BlockKind = "table-row"
	BlockHeader    BlockKind = "header"
)

// Block is a group of spatially related tokens. Lines are ordered top to
// bottom and tokens within a line left to right. Table rows have exactly one
// line and additionally expose their cells in column order.
type Block struct {
	Index int       `json:"index"`
	Kind  BlockKind `json:"kind"`
	Page  int       `json:"page"`
	Box   BBox      `json:"bbox"`
	Lines [][]Token `json:"lines"`
	Cells [][]Token `json:"cells,omitempty"`
}

// Tokens returns all tokens of the block in reading order.
func (b Block) Tokens() []Token {
	var out []Token
	for _, l := range b.Lines {
		out = append(out, l...)
	}
	return out
}

// Text joins tokens with single spaces and lines with newlines.
func (b Block) Text() string {
	lines := make([]string, 0, len(b.Lines))
	for _, l := range b.Lines {
		lines = append(lines, joinTokens(l))
	}
	return strings.Join(lines, "\n")
}

// CellTexts returns the text of each table cell.
func (b Block) CellTexts() []string {
	out := make([]string, 0, len(b.Cells))
	for _, c := range b.Cells {
		out = append(out, joinTokens(c))
	}
	return out
}

// MeanConfidence averages token confidences, 0 for an empty block.
func (b Block) MeanConfidence() float64 {
	toks := b.Tokens()
	if len(toks) == 0 {
		return 0
	}
	var sum float64
	for _, t := range toks {
		sum += t.Confidence
	}
	return sum / float64(len(toks))
}

func joinTokens(toks []Token) string {
	parts := make([]string, 0, len(toks))
	for _, t := range toks {
		parts = append(parts, t.Text)
	}
	return strings.Join(parts, " ")
}
