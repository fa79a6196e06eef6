package model

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// Verdict is the overall acceptance classification.
type Verdict string

const (
	VerdictAccepted    Verdict = "accepted"
	VerdictNeedsReview Verdict = "needs_review"
	VerdictRejected    Verdict = "rejected"
)

// Verdict reasons.
const (
	ReasonArithmeticMismatch = "arithmetic_mismatch"
	ReasonMissingTotal       = "missing_total"
	ReasonNoLineItems        = "no_line_items"
	ReasonConflictingFields  = "conflicting_fields"
	ReasonLowConfidence      = "low_confidence"
	ReasonNoConfidentFields  = "no_confident_fields"
)

// CategoryUnknown is assigned when classification finds no evidence.
const CategoryUnknown = "unknown"

// LineItem is one billed position.
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Code        string          `json:"code,omitempty"`
	Confidence  float64         `json:"confidence"`
}

// Header carries document level fields.
type Header struct {
	ProviderName string   `json:"provider_name,omitempty"`
	ProviderID   string   `json:"provider_id,omitempty"`
	InvoiceDate  string   `json:"invoice_date,omitempty"`
	ServiceDate  string   `json:"service_date,omitempty"`
	Codes        []string `json:"codes,omitempty"`
}

// InvoiceRecord is the structured result of one document.
type InvoiceRecord struct {
	Header        Header           `json:"header"`
	LineItems     []LineItem       `json:"line_items"`
	ComputedTotal decimal.Decimal  `json:"computed_total"`
	StatedTotal   *decimal.Decimal `json:"stated_total,omitempty"`
	Category      string           `json:"category"`
	Verdict       Verdict          `json:"verdict"`
	Reasons       []string         `json:"reasons,omitempty"`
	Confidence    float64          `json:"confidence"`
	Fields        []ExtractedField `json:"fields"`
}

// HasReason reports whether reason was recorded.
func (r InvoiceRecord) HasReason(reason string) bool {
	for _, x := range r.Reasons {
		if x == reason {
			return true
		}
	}
	return false
}

// FlatField is the serialized form of a field inside a FlatRecord.
type FlatField struct {
	Value      string     `json:"value"`
	Role       string     `json:"role,omitempty"`
	Confidence float64    `json:"confidence"`
	Span       Span       `json:"span"`
	Validation Validation `json:"validation"`
}

// FlatRecord maps field kinds to their values plus verdict and category.
type FlatRecord struct {
	Verdict  Verdict                `json:"verdict"`
	Category string                 `json:"category"`
	Reasons  []string               `json:"reasons,omitempty"`
	Total    string                 `json:"total,omitempty"`
	Fields   map[string][]FlatField `json:"fields"`
}

// Flat converts the record into its flat form. Fields of a kind keep their
// order of appearance.
func (r InvoiceRecord) Flat() FlatRecord {
	out := FlatRecord{
		Verdict:  r.Verdict,
		Category: r.Category,
		Reasons:  r.Reasons,
		Fields:   make(map[string][]FlatField),
	}
	if r.StatedTotal != nil {
		out.Total = r.StatedTotal.StringFixed(2)
	}
	for _, f := range r.Fields {
		out.Fields[string(f.Kind)] = append(out.Fields[string(f.Kind)], FlatField{
			Value:      f.Value,
			Role:       f.Role,
			Confidence: f.Confidence,
			Span:       f.Span,
			Validation: f.Validation,
		})
	}
	return out
}

// Marshal serializes the record deterministically.
func (r InvoiceRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// SortFields orders fields by block, start offset, kind and value.
func SortFields(fields []ExtractedField) {
	sort.SliceStable(fields, func(i, j int) bool {
		a, b := fields[i], fields[j]
		if a.Span.Block != b.Span.Block {
			return a.Span.Block < b.Span.Block
		}
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Value < b.Value
	})
}
