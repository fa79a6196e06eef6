package layout

import (
	"sort"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

type line struct {
	tokens []model.Token
	box    model.BBox
}

// resolveOverlaps keeps the higher confidence token wherever two tokens
// overlap beyond the IoU threshold and attaches the loser as an
// alternative reading of the winner.
func resolveOverlaps(in []model.Token, iou float64) []model.Token {
	toks := make([]model.Token, len(in))
	copy(toks, in)
	sort.SliceStable(toks, func(i, j int) bool {
		a, b := toks[i], toks[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Box.Y != b.Box.Y {
			return a.Box.Y < b.Box.Y
		}
		if a.Box.X != b.Box.X {
			return a.Box.X < b.Box.X
		}
		return a.Text < b.Text
	})

	kept := make([]model.Token, 0, len(toks))
	for _, t := range toks {
		merged := false
		for k := range kept {
			if kept[k].Box.IoU(t.Box) >= iou {
				kept[k] = kept[k].WithAlternative(model.Alternative{Text: t.Text, Confidence: t.Confidence})
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, t)
		}
	}
	return kept
}

// groupLines clusters tokens into lines by vertical overlap and orders
// lines top to bottom, tokens left to right.
func groupLines(toks []model.Token, minOverlap float64) []line {
	sorted := make([]model.Token, len(toks))
	copy(sorted, toks)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := sorted[i].Box.CenterY(), sorted[j].Box.CenterY()
		if ci != cj {
			return ci < cj
		}
		return sorted[i].Box.X < sorted[j].Box.X
	})

	var lines []line
	for _, t := range sorted {
		best, bestOv := -1, 0.0
		// Only the most recent lines can still overlap a token sorted by center.
		for i := len(lines) - 1; i >= 0 && i >= len(lines)-3; i-- {
			ov := lines[i].box.VerticalOverlap(t.Box)
			if ov >= minOverlap && ov > bestOv {
				best, bestOv = i, ov
			}
		}
		if best < 0 {
			lines = append(lines, line{tokens: []model.Token{t}, box: t.Box})
			continue
		}
		lines[best].tokens = append(lines[best].tokens, t)
		lines[best].box = lines[best].box.Union(t.Box)
	}

	for i := range lines {
		sort.SliceStable(lines[i].tokens, func(a, b int) bool {
			return lines[i].tokens[a].Box.X < lines[i].tokens[b].Box.X
		})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].box.Y < lines[j].box.Y })
	return lines
}
