package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/repository"
)

// InvoicePostgres is a PostgreSQL implementation of
// repository.InvoiceRepository.
type InvoicePostgres struct {
	db *sql.DB
}

// NewInvoicePostgres creates a new repository on db.
func NewInvoicePostgres(db *sql.DB) *InvoicePostgres {
	return &InvoicePostgres{db: db}
}

var _ repository.InvoiceRepository = (*InvoicePostgres)(nil)

const columns = `id, name, content_hash, status, verdict, category, total, record, failure, created_at`

type scanner interface {
	Scan(dest ...any) error
}

// Save upserts inv by id.
func (r *InvoicePostgres) Save(ctx context.Context, inv *repository.Invoice) error {
	const q = `
		INSERT INTO invoices (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			content_hash = EXCLUDED.content_hash,
			status = EXCLUDED.status,
			verdict = EXCLUDED.verdict,
			category = EXCLUDED.category,
			total = EXCLUDED.total,
			record = EXCLUDED.record,
			failure = EXCLUDED.failure
	`
	failure, err := marshalFailure(inv.Failure)
	if err != nil {
		return err
	}
	var record any
	if len(inv.Record) > 0 {
		record = []byte(inv.Record)
	}
	_, err = r.db.ExecContext(ctx, q,
		inv.ID,
		inv.Name,
		inv.ContentHash,
		string(inv.Status),
		string(inv.Verdict),
		inv.Category,
		inv.Total,
		record,
		failure,
		inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save invoice %s: %w", inv.ID, err)
	}
	return nil
}

// FindByID fetches a single invoice.
func (r *InvoicePostgres) FindByID(ctx context.Context, id string) (*repository.Invoice, error) {
	const q = `SELECT ` + columns + ` FROM invoices WHERE id = $1`
	return r.one(r.db.QueryRowContext(ctx, q, id))
}

// FindByHash fetches the newest completed invoice for a content hash.
func (r *InvoicePostgres) FindByHash(ctx context.Context, hash string) (*repository.Invoice, error) {
	const q = `
		SELECT ` + columns + `
		FROM invoices
		WHERE content_hash = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.one(r.db.QueryRowContext(ctx, q, hash, string(model.StatusComplete)))
}

// List returns invoices using LIMIT/OFFSET pagination and a total count.
func (r *InvoicePostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[repository.Invoice], error) {
	pq = pq.Normalize()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count invoices: %w", err)
	}

	const q = `
		SELECT ` + columns + `
		FROM invoices
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, q, pq.Limit, pq.Offset)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]repository.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &repository.PageResult[repository.Invoice]{Items: items, Total: total}, nil
}

func (r *InvoicePostgres) one(row *sql.Row) (*repository.Invoice, error) {
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return inv, err
}

func scanInvoice(s scanner) (*repository.Invoice, error) {
	var (
		inv             repository.Invoice
		status, verdict string
		record, failure []byte
	)
	if err := s.Scan(
		&inv.ID,
		&inv.Name,
		&inv.ContentHash,
		&status,
		&verdict,
		&inv.Category,
		&inv.Total,
		&record,
		&failure,
		&inv.CreatedAt,
	); err != nil {
		return nil, err
	}
	inv.Status = model.Status(status)
	inv.Verdict = model.Verdict(verdict)
	if len(record) > 0 {
		inv.Record = json.RawMessage(record)
	}
	if len(failure) > 0 {
		var f model.Failure
		if err := json.Unmarshal(failure, &f); err != nil {
			return nil, fmt.Errorf("decode failure of %s: %w", inv.ID, err)
		}
		inv.Failure = &f
	}
	return &inv, nil
}

func marshalFailure(f *model.Failure) (any, error) {
	if f == nil {
		return nil, nil
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal failure: %w", err)
	}
	return raw, nil
}
