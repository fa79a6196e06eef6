package model

import "github.com/shopspring/decimal"

// FieldKind is the semantic type of an extracted field.
type FieldKind string

const (
	FieldDate       FieldKind = "date"
	FieldAmount     FieldKind = "amount"
	FieldProviderID FieldKind = "provider_id"
	FieldCode       FieldKind = "code"
	FieldLineItem   FieldKind = "line_item"
)

// Field roles refine a kind without changing it.
const (
	RoleTotal        = "total"
	RoleSubtotal     = "subtotal"
	RoleProviderName = "provider_name"
	RoleNPI          = "npi"
	RoleTaxID        = "tax_id"
	RoleInvoiceDate  = "invoice_date"
	RoleServiceDate  = "service_date"
)

// Validation is the validator's verdict on a single field.
type Validation string

const (
	Unverified Validation = "unverified"
	Confirmed  Validation = "confirmed"
	Rejected   Validation = "rejected"
)

// Extraction sources.
const (
	FromRule   = "rule"
	FromNER    = "ner"
	FromMerged = "merged"
)

// Span locates a field in the text of a block. Start and End are rune
// offsets into Block.Text().
type Span struct {
	Block int    `json:"block"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Overlaps reports whether two spans share at least one rune of the same block.
func (s Span) Overlaps(o Span) bool {
	return s.Block == o.Block && s.Start < o.End && o.Start < s.End
}

// ExtractedField is one candidate value. Block is a back-reference into the
// block slice the field was extracted from.
type ExtractedField struct {
	Kind       FieldKind       `json:"kind"`
	Role       string          `json:"role,omitempty"`
	Value      string          `json:"value"`
	Amount     decimal.Decimal `json:"amount,omitzero"`
	Code       string          `json:"code,omitempty"`
	Span       Span            `json:"span"`
	Confidence float64         `json:"confidence"`
	Validation Validation      `json:"validation"`
	Source     string          `json:"source"`
}

// HasAmount reports whether the field carries a monetary value.
func (f ExtractedField) HasAmount() bool {
	return f.Kind == FieldAmount || f.Kind == FieldLineItem
}
