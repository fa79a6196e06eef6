package validate

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// Config configures validation and classification.
type Config struct {
	// Thresholds are per-kind confidence levels above which a field counts as
	// high confidence. Kinds not listed use DefaultThreshold.
	Thresholds          map[string]float64 `mapstructure:"thresholds" yaml:"thresholds" json:"thresholds"`
	DefaultThreshold    float64            `mapstructure:"default_threshold" yaml:"default_threshold" json:"default_threshold"`
	AcceptanceThreshold float64            `mapstructure:"acceptance_threshold" yaml:"acceptance_threshold" json:"acceptance_threshold"`
	Tolerance           float64            `mapstructure:"tolerance" yaml:"tolerance" json:"tolerance"`
	TaxonomyPath        string             `mapstructure:"taxonomy_path" yaml:"taxonomy_path" json:"taxonomy_path"`
}

// DefaultConfig returns the default validation configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds: map[string]float64{
			string(model.FieldDate):       0.7,
			string(model.FieldAmount):     0.7,
			string(model.FieldProviderID): 0.6,
			string(model.FieldCode):       0.7,
			string(model.FieldLineItem):   0.7,
		},
		DefaultThreshold:    0.7,
		AcceptanceThreshold: 0.75,
		Tolerance:           0.01,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	for k, v := range c.Thresholds {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold for %s %.2f outside [0,1]", k, v)
		}
	}
	if c.DefaultThreshold < 0 || c.DefaultThreshold > 1 {
		return fmt.Errorf("default threshold %.2f outside [0,1]", c.DefaultThreshold)
	}
	if c.AcceptanceThreshold < 0 || c.AcceptanceThreshold > 1 {
		return fmt.Errorf("acceptance threshold %.2f outside [0,1]", c.AcceptanceThreshold)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("tolerance must be non-negative, got %.4f", c.Tolerance)
	}
	return nil
}

// Threshold returns the high-confidence level for kind.
func (c Config) Threshold(kind model.FieldKind) float64 {
	if t, ok := c.Thresholds[string(kind)]; ok {
		return t
	}
	return c.DefaultThreshold
}

// Validator turns candidate fields into an InvoiceRecord.
type Validator struct {
	cfg       Config
	taxonomy  *Taxonomy
	tolerance decimal.Decimal
}

// New builds a validator. A nil taxonomy uses the built-in one.
func New(cfg Config, taxonomy *Taxonomy) *Validator {
	if taxonomy == nil {
		taxonomy = DefaultTaxonomy()
	}
	return &Validator{cfg: cfg, taxonomy: taxonomy, tolerance: decimal.NewFromFloat(cfg.Tolerance)}
}

// Taxonomy returns the classifier taxonomy.
func (v *Validator) Taxonomy() *Taxonomy { return v.taxonomy }

// Validate cross-checks fields and decides the verdict. It never fails:
// problems are reported as verdict reasons.
func (v *Validator) Validate(candidates []model.ExtractedField) model.InvoiceRecord {
	fields := v.resolve(candidates)
	model.SortFields(fields)
	rec := model.InvoiceRecord{
		LineItems:     []model.LineItem{},
		ComputedTotal: decimal.Zero,
		Category:      model.CategoryUnknown,
	}

	var kept []*model.ExtractedField
	conflicts := false
	for i := range fields {
		if fields[i].Validation == model.Rejected {
			conflicts = true
			continue
		}
		kept = append(kept, &fields[i])
	}

	v.fillHeader(&rec, kept)

	var items []*model.ExtractedField
	for _, f := range kept {
		if f.Kind == model.FieldLineItem {
			items = append(items, f)
			rec.LineItems = append(rec.LineItems, model.LineItem{
				Description: f.Value,
				Amount:      f.Amount,
				Code:        f.Code,
				Confidence:  f.Confidence,
			})
			rec.ComputedTotal = rec.ComputedTotal.Add(f.Amount)
		}
	}

	total := best(kept, model.FieldAmount, model.RoleTotal)
	if total != nil {
		stated := total.Amount
		rec.StatedTotal = &stated
	}

	var reasons []string
	if conflicts {
		reasons = append(reasons, model.ReasonConflictingFields)
	}
	switch {
	case total == nil:
		reasons = append(reasons, model.ReasonMissingTotal)
	case len(items) > 0:
		if rec.ComputedTotal.Sub(total.Amount).Abs().LessThanOrEqual(v.tolerance) {
			total.Validation = model.Confirmed
			for _, it := range items {
				it.Validation = model.Confirmed
			}
		} else {
			reasons = append(reasons, model.ReasonArithmeticMismatch)
		}
	}
	if len(items) == 0 {
		reasons = append(reasons, model.ReasonNoLineItems)
	}

	confident := 0
	var sum float64
	for _, f := range kept {
		sum += f.Confidence
		if f.Confidence >= v.cfg.Threshold(f.Kind) {
			confident++
		}
	}
	if len(kept) > 0 {
		rec.Confidence = sum / float64(len(kept))
	}

	rec.Category, _ = v.taxonomy.Classify(v.evidence(rec, kept))

	switch {
	case confident == 0:
		rec.Verdict = model.VerdictRejected
		reasons = append(reasons, model.ReasonNoConfidentFields)
	default:
		if rec.Confidence < v.cfg.AcceptanceThreshold {
			reasons = append(reasons, model.ReasonLowConfidence)
		}
		if len(reasons) == 0 {
			rec.Verdict = model.VerdictAccepted
		} else {
			rec.Verdict = model.VerdictNeedsReview
		}
	}
	rec.Reasons = reasons
	rec.Fields = fields
	slog.Debug("record validated",
		"verdict", rec.Verdict, "category", rec.Category, "reasons", rec.Reasons,
		"fields", len(fields), "items", len(rec.LineItems))
	return rec
}

// resolve collapses duplicate readings and rejects conflicting ones. Two
// candidates of the same kind on overlapping spans are duplicates when their
// values agree; when they disagree and both are high confidence both are
// rejected, otherwise the weaker one is dropped.
func (v *Validator) resolve(candidates []model.ExtractedField) []model.ExtractedField {
	fields := make([]model.ExtractedField, len(candidates))
	copy(fields, candidates)
	for i := range fields {
		fields[i].Confidence = model.ClampConfidence(fields[i].Confidence)
		fields[i].Validation = model.Unverified
	}
	// Strongest first so the survivor of each cluster is deterministic.
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].Confidence != fields[j].Confidence {
			return fields[i].Confidence > fields[j].Confidence
		}
		if fields[i].Span.Block != fields[j].Span.Block {
			return fields[i].Span.Block < fields[j].Span.Block
		}
		if fields[i].Span.Start != fields[j].Span.Start {
			return fields[i].Span.Start < fields[j].Span.Start
		}
		return fields[i].Value < fields[j].Value
	})

	dropped := make([]bool, len(fields))
	for i := range fields {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(fields); j++ {
			if dropped[j] || fields[i].Kind != fields[j].Kind || !fields[i].Span.Overlaps(fields[j].Span) {
				continue
			}
			if sameValue(fields[i], fields[j]) {
				dropped[j] = true
				continue
			}
			th := v.cfg.Threshold(fields[i].Kind)
			if fields[i].Confidence >= th && fields[j].Confidence >= th {
				fields[i].Validation = model.Rejected
				fields[j].Validation = model.Rejected
				continue
			}
			dropped[j] = true
		}
	}

	out := make([]model.ExtractedField, 0, len(fields))
	for i, f := range fields {
		if !dropped[i] {
			out = append(out, f)
		}
	}
	return out
}

func sameValue(a, b model.ExtractedField) bool {
	if a.HasAmount() && !a.Amount.Equal(b.Amount) {
		return false
	}
	return a.Value == b.Value && a.Role == b.Role
}

// best returns the highest confidence field of kind and role.
func best(fields []*model.ExtractedField, kind model.FieldKind, role string) *model.ExtractedField {
	var out *model.ExtractedField
	for _, f := range fields {
		if f.Kind != kind || f.Role != role {
			continue
		}
		if out == nil || f.Confidence > out.Confidence {
			out = f
		}
	}
	return out
}

func (v *Validator) fillHeader(rec *model.InvoiceRecord, kept []*model.ExtractedField) {
	if f := best(kept, model.FieldProviderID, model.RoleProviderName); f != nil {
		rec.Header.ProviderName = f.Value
	}
	if f := best(kept, model.FieldProviderID, model.RoleNPI); f != nil {
		rec.Header.ProviderID = f.Value
	} else if f := best(kept, model.FieldProviderID, model.RoleTaxID); f != nil {
		rec.Header.ProviderID = f.Value
	}
	if f := best(kept, model.FieldDate, model.RoleInvoiceDate); f != nil {
		rec.Header.InvoiceDate = f.Value
	} else if f := best(kept, model.FieldDate, ""); f != nil {
		rec.Header.InvoiceDate = f.Value
	}
	if f := best(kept, model.FieldDate, model.RoleServiceDate); f != nil {
		rec.Header.ServiceDate = f.Value
	}
	seen := make(map[string]bool)
	for _, f := range kept {
		if f.Kind == model.FieldCode && f.Confidence >= v.cfg.Threshold(model.FieldCode) && !seen[f.Value] {
			seen[f.Value] = true
			rec.Header.Codes = append(rec.Header.Codes, f.Value)
		}
	}
	sort.Strings(rec.Header.Codes)
}

func (v *Validator) evidence(rec model.InvoiceRecord, kept []*model.ExtractedField) Evidence {
	ev := Evidence{Provider: rec.Header.ProviderName}
	for _, it := range rec.LineItems {
		ev.Descriptions = append(ev.Descriptions, it.Description)
	}
	for _, f := range kept {
		if f.Kind == model.FieldCode {
			ev.Codes = append(ev.Codes, *f)
		}
	}
	return ev
}
