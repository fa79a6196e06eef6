// Package repository persists processed invoices. Implementations live in
// subpackages; Memory serves tests and deployments without a database.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
)

// ErrNotFound is returned when no invoice matches.
var ErrNotFound = errors.New("invoice not found")

// Invoice is the stored form of one processed document.
type Invoice struct {
	ID          string              `json:"id"`
	Name        string              `json:"name,omitempty"`
	ContentHash string              `json:"content_hash"`
	Status      model.Status        `json:"status"`
	Verdict     model.Verdict       `json:"verdict,omitempty"`
	Category    string              `json:"category,omitempty"`
	Total       decimal.NullDecimal `json:"total"`
	Record      json.RawMessage     `json:"record,omitempty"`
	Failure     *model.Failure      `json:"failure,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// FromResult converts a pipeline result into its stored form. The total is
// the stated total, or the computed one when the document states none.
func FromResult(res *pipeline.Result, contentHash string, now time.Time) (*Invoice, error) {
	inv := &Invoice{
		ID:          res.DocumentID,
		Name:        res.Name,
		ContentHash: contentHash,
		Status:      res.Status,
		Failure:     res.Failure,
		CreatedAt:   now.UTC(),
	}
	if res.Record != nil {
		rec := res.Record.Flat()
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		inv.Record = raw
		inv.Verdict = res.Record.Verdict
		inv.Category = res.Record.Category
		switch {
		case res.Record.StatedTotal != nil:
			inv.Total = decimal.NewNullDecimal(*res.Record.StatedTotal)
		case len(res.Record.LineItems) > 0:
			inv.Total = decimal.NewNullDecimal(res.Record.ComputedTotal)
		}
	}
	return inv, nil
}

// FlatRecord decodes the stored record, nil for failed documents.
func (i *Invoice) FlatRecord() (*model.FlatRecord, error) {
	if len(i.Record) == 0 {
		return nil, nil
	}
	var rec model.FlatRecord
	if err := json.Unmarshal(i.Record, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", i.ID, err)
	}
	return &rec, nil
}

// InvoiceRepository defines persistence operations for invoices.
type InvoiceRepository interface {
	// Save inserts inv or replaces the row with the same id.
	Save(ctx context.Context, inv *Invoice) error

	// FindByID returns ErrNotFound when no row matches.
	FindByID(ctx context.Context, id string) (*Invoice, error)

	// FindByHash returns the newest completed invoice with the given content
	// hash.
	FindByHash(ctx context.Context, hash string) (*Invoice, error)

	// List returns invoices newest first and the total row count.
	List(ctx context.Context, pq PageQuery) (*PageResult[Invoice], error)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// Normalize clamps the query to sane bounds.
func (pq PageQuery) Normalize() PageQuery {
	if pq.Limit <= 0 || pq.Limit > 100 {
		pq.Limit = 20
	}
	if pq.Offset < 0 {
		pq.Offset = 0
	}
	return pq
}

// PageResult is a pagination result wrapper.
type PageResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}
