package pipeline

import (
	"encoding/json"

	"github.com/MeKo-Tech/medinvoice/internal/common"
	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// Result is the outcome of one document. Exactly one of Record and Failure
// is set.
type Result struct {
	DocumentID string               `json:"document_id"`
	Name       string               `json:"name,omitempty"`
	Status     model.Status         `json:"status"`
	Pages      int                  `json:"pages"`
	Record     *model.InvoiceRecord `json:"record,omitempty"`
	Failure    *model.Failure       `json:"failure,omitempty"`
	Timings    []common.StageTiming `json:"timings,omitempty"`
	History    []model.Status       `json:"history,omitempty"`
}

// Output is the content-only view of a Result. It carries neither the
// document id nor timings, so identical input yields identical output.
type Output struct {
	Status  model.Status      `json:"status"`
	Record  *model.FlatRecord `json:"record,omitempty"`
	Failure *model.Failure    `json:"failure,omitempty"`
}

// Output returns the content-only view of r.
func (r *Result) Output() Output {
	out := Output{Status: r.Status, Failure: r.Failure}
	if r.Record != nil {
		flat := r.Record.Flat()
		out.Record = &flat
	}
	return out
}

// Marshal serializes the content-only view deterministically.
func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r.Output())
}

// Err returns the failure as an error, nil for a completed document.
func (r *Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return *r.Failure
}

// Accepted reports whether the document completed with an accepted record.
func (r *Result) Accepted() bool {
	return r.Record != nil && r.Record.Verdict == model.VerdictAccepted
}
