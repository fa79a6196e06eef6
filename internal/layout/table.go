package layout

import "github.com/MeKo-Tech/medinvoice/internal/model"

// gap is a horizontal whitespace interval between two tokens of a line.
type gap struct {
	from, to int
	// after is the index of the token left of the gap.
	after int
}

func columnGaps(toks []model.Token, minWidth float64) []gap {
	var out []gap
	for i := 1; i < len(toks); i++ {
		from, to := toks[i-1].Box.Right(), toks[i].Box.X
		if float64(to-from) >= minWidth {
			out = append(out, gap{from: from, to: to, after: i - 1})
		}
	}
	return out
}

// aligned reports whether two lines share a whitespace corridor, i.e. a
// column gap in one intersects a column gap in the other by at least tol.
func aligned(a, b []gap, tol float64) bool {
	for _, x := range a {
		for _, y := range b {
			if float64(min(x.to, y.to)-max(x.from, y.from)) >= tol {
				return true
			}
		}
	}
	return false
}

// detectTables marks lines inside runs of at least minRows consecutive,
// pairwise aligned lines.
func detectTables(gaps [][]gap, medH float64, minRows int) []bool {
	in := make([]bool, len(gaps))
	tol := medH / 2
	start := 0
	for i := 1; i <= len(gaps); i++ {
		if i < len(gaps) && len(gaps[i]) > 0 && len(gaps[i-1]) > 0 && aligned(gaps[i-1], gaps[i], tol) {
			continue
		}
		if i-start >= minRows && len(gaps[start]) > 0 {
			for k := start; k < i; k++ {
				in[k] = true
			}
		}
		start = i
	}
	return in
}

// splitCells cuts a line at its column gaps, keeping x order.
func splitCells(toks []model.Token, gaps []gap) [][]model.Token {
	cells := make([][]model.Token, 0, len(gaps)+1)
	start := 0
	for _, g := range gaps {
		cells = append(cells, append([]model.Token(nil), toks[start:g.after+1]...))
		start = g.after + 1
	}
	return append(cells, append([]model.Token(nil), toks[start:]...))
}
