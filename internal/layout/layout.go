// Package layout rebuilds reading structure from positioned OCR tokens:
// lines, paragraph blocks, a page header and line item table rows.
package layout

import (
	"fmt"
	"sort"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// Config holds the spatial thresholds. Gap and tolerance factors are
// relative to the median token height of the page.
type Config struct {
	// LineOverlap is the minimum vertical overlap ratio for two tokens to
	// share a line.
	LineOverlap float64 `json:"line_overlap"`
	// BlockGapFactor splits blocks when the gap between lines exceeds it.
	BlockGapFactor float64 `json:"block_gap_factor"`
	// ColumnGapFactor is the minimum horizontal gap that separates columns.
	ColumnGapFactor float64 `json:"column_gap_factor"`
	// MinTableRows is the minimum run of aligned lines forming a table.
	MinTableRows int `json:"min_table_rows"`
	// TokenOverlapIoU marks two tokens as competing readings of one spot.
	TokenOverlapIoU float64 `json:"token_overlap_iou"`
	// HeaderFraction is the top share of the page where header blocks live.
	HeaderFraction float64 `json:"header_fraction"`
}

// DefaultConfig returns the default layout configuration.
func DefaultConfig() Config {
	return Config{
		LineOverlap:     0.5,
		BlockGapFactor:  1.2,
		ColumnGapFactor: 2.0,
		MinTableRows:    2,
		TokenOverlapIoU: 0.5,
		HeaderFraction:  0.2,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.LineOverlap <= 0 || c.LineOverlap > 1 {
		return fmt.Errorf("line overlap must be in (0,1], got %v", c.LineOverlap)
	}
	if c.BlockGapFactor <= 0 || c.ColumnGapFactor <= 0 {
		return fmt.Errorf("gap factors must be positive")
	}
	if c.MinTableRows < 2 {
		return fmt.Errorf("min table rows must be at least 2, got %d", c.MinTableRows)
	}
	if c.TokenOverlapIoU <= 0 || c.TokenOverlapIoU > 1 {
		return fmt.Errorf("token overlap iou must be in (0,1], got %v", c.TokenOverlapIoU)
	}
	if c.HeaderFraction < 0 || c.HeaderFraction > 1 {
		return fmt.Errorf("header fraction must be in [0,1], got %v", c.HeaderFraction)
	}
	return nil
}

// Page is the token stream of one page.
type Page struct {
	Index  int
	Height int
	Tokens []model.Token
}

// Reconstructor is stateless and safe for concurrent use.
type Reconstructor struct {
	cfg Config
}

// New creates a reconstructor.
func New(cfg Config) *Reconstructor {
	return &Reconstructor{cfg: cfg}
}

// Document reconstructs every page and numbers blocks across the document.
func (r *Reconstructor) Document(pages []Page) []model.Block {
	var out []model.Block
	for _, p := range pages {
		for _, b := range r.Page(p) {
			b.Index = len(out)
			out = append(out, b)
		}
	}
	return out
}

// Page reconstructs the blocks of a single page in reading order. Block
// indexes are page local.
func (r *Reconstructor) Page(p Page) []model.Block {
	toks := resolveOverlaps(p.Tokens, r.cfg.TokenOverlapIoU)
	if len(toks) == 0 {
		return nil
	}
	lines := groupLines(toks, r.cfg.LineOverlap)
	medH := medianHeight(toks)
	minGap := r.cfg.ColumnGapFactor * medH

	gaps := make([][]gap, len(lines))
	for i, l := range lines {
		gaps[i] = columnGaps(l.tokens, minGap)
	}
	inTable := detectTables(gaps, medH, r.cfg.MinTableRows)

	height := p.Height
	if height <= 0 {
		for _, t := range toks {
			height = max(height, t.Box.Bottom())
		}
	}

	var (
		blocks []model.Block
		cur    *model.Block
	)
	flush := func() {
		if cur != nil {
			blocks = append(blocks, *cur)
			cur = nil
		}
	}
	for i, l := range lines {
		if inTable[i] {
			flush()
			blocks = append(blocks, model.Block{
				Kind:  model.BlockTableRow,
				Page:  p.Index,
				Box:   l.box,
				Lines: [][]model.Token{l.tokens},
				Cells: splitCells(l.tokens, gaps[i]),
			})
			continue
		}
		if cur != nil {
			prev := cur.Lines[len(cur.Lines)-1]
			gapY := float64(l.box.Y - lineBottom(prev))
			if gapY > r.cfg.BlockGapFactor*medH {
				flush()
			}
		}
		if cur == nil {
			cur = &model.Block{Kind: model.BlockParagraph, Page: p.Index, Box: l.box}
		} else {
			cur.Box = cur.Box.Union(l.box)
		}
		cur.Lines = append(cur.Lines, l.tokens)
	}
	flush()

	// Only the first block of a page can be its header.
	limit := int(float64(height) * r.cfg.HeaderFraction)
	if len(blocks) > 0 && blocks[0].Kind == model.BlockParagraph && blocks[0].Box.Bottom() <= limit {
		blocks[0].Kind = model.BlockHeader
	}
	for i := range blocks {
		blocks[i].Index = i
	}
	return blocks
}

func lineBottom(toks []model.Token) int {
	b := 0
	for _, t := range toks {
		b = max(b, t.Box.Bottom())
	}
	return b
}

func medianHeight(toks []model.Token) float64 {
	hs := make([]int, 0, len(toks))
	for _, t := range toks {
		if t.Box.H > 0 {
			hs = append(hs, t.Box.H)
		}
	}
	if len(hs) == 0 {
		return 1
	}
	sort.Ints(hs)
	return float64(hs[len(hs)/2])
}
