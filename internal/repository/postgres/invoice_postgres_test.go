package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/repository"
)

var invoiceColumns = []string{
	"id", "name", "content_hash", "status", "verdict", "category", "total", "record", "failure", "created_at",
}

func newMock(t *testing.T) (*InvoicePostgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewInvoicePostgres(db), mock
}

func TestInvoicePostgres_Save(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	inv := &repository.Invoice{
		ID:          "inv-1",
		Name:        "scan.png",
		ContentHash: "abc",
		Status:      model.StatusComplete,
		Verdict:     model.VerdictAccepted,
		Category:    "pharmacy",
		Total:       decimal.NewNullDecimal(decimal.RequireFromString("120.00")),
		Record:      []byte(`{"verdict":"accepted"}`),
		CreatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO invoices").
		WithArgs("inv-1", "scan.png", "abc", "complete", "accepted", "pharmacy",
			sqlmock.AnyArg(), sqlmock.AnyArg(), nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), inv))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoicePostgres_SaveError(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("INSERT INTO invoices").WillReturnError(errors.New("conn reset"))

	err := repo.Save(context.Background(), &repository.Invoice{ID: "x", Status: model.StatusFailed,
		Failure: &model.Failure{Stage: model.StatusOCR, Kind: model.KindOCR, Message: "down"}})
	require.ErrorContains(t, err, "save invoice x")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoicePostgres_FindByID(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows(invoiceColumns).
			AddRow("inv-1", "scan.png", "abc", "complete", "accepted", "pharmacy", "120.00",
				[]byte(`{"verdict":"accepted","category":"pharmacy","fields":{}}`), nil, time.Now())
		mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id = ?").
			WithArgs("inv-1").
			WillReturnRows(rows)

		inv, err := repo.FindByID(ctx, "inv-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusComplete, inv.Status)
		assert.Equal(t, model.VerdictAccepted, inv.Verdict)
		require.True(t, inv.Total.Valid)
		assert.Equal(t, "120.00", inv.Total.Decimal.StringFixed(2))
		rec, err := inv.FlatRecord()
		require.NoError(t, err)
		assert.Equal(t, "pharmacy", rec.Category)
	})

	t.Run("failed document", func(t *testing.T) {
		rows := sqlmock.NewRows(invoiceColumns).
			AddRow("inv-2", "", "def", "failed", "", "", nil, nil,
				[]byte(`{"stage":"ocr","kind":"OCRError","message":"down"}`), time.Now())
		mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id = ?").
			WithArgs("inv-2").
			WillReturnRows(rows)

		inv, err := repo.FindByID(ctx, "inv-2")
		require.NoError(t, err)
		assert.False(t, inv.Total.Valid)
		require.NotNil(t, inv.Failure)
		assert.Equal(t, model.StatusOCR, inv.Failure.Stage)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id = ?").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		inv, err := repo.FindByID(ctx, "missing")
		assert.Nil(t, inv)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoicePostgres_FindByHash(t *testing.T) {
	repo, mock := newMock(t)
	rows := sqlmock.NewRows(invoiceColumns).
		AddRow("inv-3", "", "hash", "complete", "needs_review", "unknown", nil, []byte(`{}`), nil, time.Now())
	mock.ExpectQuery("SELECT (.+) FROM invoices WHERE content_hash = (.+) ORDER BY created_at DESC").
		WithArgs("hash", "complete").
		WillReturnRows(rows)

	inv, err := repo.FindByHash(context.Background(), "hash")
	require.NoError(t, err)
	assert.Equal(t, "inv-3", inv.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoicePostgres_List(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	rows := sqlmock.NewRows(invoiceColumns).
		AddRow("b", "", "h2", "complete", "accepted", "dental", "10.00", []byte(`{}`), nil, time.Now()).
		AddRow("a", "", "h1", "failed", "", "", nil, nil, nil, time.Now())
	mock.ExpectQuery("SELECT (.+) FROM invoices ORDER BY").
		WithArgs(20, 0).
		WillReturnRows(rows)

	page, err := repo.List(context.Background(), repository.PageQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "b", page.Items[0].ID)
	assert.Equal(t, model.StatusFailed, page.Items[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS invoices").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, Migrate(context.Background(), db))

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	require.ErrorContains(t, Migrate(context.Background(), db), "migrate")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.ErrorContains(t, err, "dsn")

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()

	orig := sqlOpen
	t.Cleanup(func() { sqlOpen = orig })
	var gotDriver string
	sqlOpen = func(driverName, _ string) (*sql.DB, error) {
		gotDriver = driverName
		return db, nil
	}

	opened, err := Open(context.Background(), Config{DSN: "postgres://x@localhost/db", MaxOpenConns: 3})
	require.NoError(t, err)
	assert.Same(t, db, opened)
	assert.NotEmpty(t, gotDriver)
	assert.Equal(t, 3, opened.Stats().MaxOpenConnections)
	assert.NoError(t, mock.ExpectationsWereMet())
	_ = opened.Close()
}
