package extract

import (
	"strings"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// DefaultAgreementBoost is added when a rule match and an entity agree.
const DefaultAgreementBoost = 0.05

// Combine merges a rule confidence r and an entity score s. Agreement always
// scores at least as high as either input.
func Combine(r, s, boost float64) float64 {
	r = model.ClampConfidence(r)
	s = model.ClampConfidence(s)
	return model.ClampConfidence(max(1-(1-r)*(1-s)+boost, r, s))
}

// compatible reports whether an entity label can confirm a rule candidate.
func compatible(label string, f model.ExtractedField) bool {
	switch label {
	case LabelOrg:
		return f.Kind == model.FieldProviderID && f.Role == model.RoleProviderName
	case LabelDate:
		return f.Kind == model.FieldDate
	case LabelMoney:
		return f.Kind == model.FieldAmount || f.Kind == model.FieldLineItem
	}
	return false
}

// merge combines one block's rule candidates with its entities. Rule
// candidates keep their normalized value; entities no rule explains become
// candidates of their own when their text parses.
func merge(ib indexedBlock, rules []model.ExtractedField, ents []Entity, boost float64, dateOrder string) []model.ExtractedField {
	out := make([]model.ExtractedField, len(rules))
	copy(out, rules)
	explained := make([]bool, len(ents))

	for i := range out {
		best := -1.0
		for j, e := range ents {
			if !compatible(e.Label, out[i]) {
				continue
			}
			if !out[i].Span.Overlaps(model.Span{Block: ib.block.Index, Start: e.Start, End: e.End}) {
				continue
			}
			explained[j] = true
			best = max(best, e.Score)
		}
		if best >= 0 {
			out[i].Confidence = Combine(out[i].Confidence, best, boost)
			out[i].Source = model.FromMerged
		}
	}

	for j, e := range ents {
		if explained[j] {
			continue
		}
		if f, ok := entityField(ib, e, dateOrder); ok {
			out = append(out, f)
		}
	}
	return out
}

// entityField converts an unexplained entity into a candidate.
func entityField(ib indexedBlock, e Entity, dateOrder string) (model.ExtractedField, bool) {
	f := model.ExtractedField{
		Span:       ib.span(e.Start, e.End),
		Confidence: model.ClampConfidence(e.Score),
		Validation: model.Unverified,
		Source:     model.FromNER,
	}
	switch e.Label {
	case LabelOrg:
		name := strings.TrimSpace(e.Text)
		if name == "" {
			return f, false
		}
		f.Kind, f.Role, f.Value = model.FieldProviderID, model.RoleProviderName, name
	case LabelDate:
		lc := newLineContext(e.Text, false, func(int, int) float64 { return 1 })
		dates := scanDates(lc, dateOrder)
		if len(dates) != 1 {
			return f, false
		}
		f.Kind, f.Value = model.FieldDate, dates[0].Value
	case LabelMoney:
		d, ok := ParseAmount(e.Text)
		if !ok {
			return f, false
		}
		f.Kind, f.Value, f.Amount = model.FieldAmount, d.StringFixed(2), d
	default:
		return f, false
	}
	return f, true
}
