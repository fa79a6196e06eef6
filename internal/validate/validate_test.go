package validate

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

func fld(kind model.FieldKind, role, value string, block, start, end int, conf float64) model.ExtractedField {
	return model.ExtractedField{
		Kind:       kind,
		Role:       role,
		Value:      value,
		Span:       model.Span{Block: block, Start: start, End: end, Text: value},
		Confidence: conf,
		Validation: model.Unverified,
		Source:     model.FromRule,
	}
}

func amount(role, value string, block, start int, conf float64) model.ExtractedField {
	f := fld(model.FieldAmount, role, value, block, start, start+len(value)+1, conf)
	f.Amount = decimal.RequireFromString(value)
	return f
}

func item(desc, value, code string, block int, conf float64) model.ExtractedField {
	f := fld(model.FieldLineItem, "", desc, block, 0, 40, conf)
	f.Amount = decimal.RequireFromString(value)
	f.Code = code
	return f
}

func code(system, value string, block, start int, conf float64) model.ExtractedField {
	f := fld(model.FieldCode, system, value, block, start, start+len(value), conf)
	f.Code = value
	return f
}

func invoiceFields(total string) []model.ExtractedField {
	return []model.ExtractedField{
		fld(model.FieldProviderID, model.RoleProviderName, "Sunrise Pharmacy", 0, 0, 16, 0.94),
		fld(model.FieldProviderID, model.RoleNPI, "1234567893", 0, 22, 32, 0.9),
		fld(model.FieldDate, model.RoleInvoiceDate, "2024-03-14", 0, 39, 49, 0.96),
		code("ndc", "0093-4155-73", 2, 18, 0.85),
		item("Amoxicillin 500mg", "50.00", "0093-4155-73", 2, 0.9),
		amount("", "50.00", 2, 31, 0.95),
		code("ndc", "0904-5853-61", 3, 16, 0.85),
		item("Ibuprofen 200mg", "70.00", "0904-5853-61", 3, 0.9),
		amount("", "70.00", 3, 29, 0.95),
		amount(model.RoleTotal, total, 4, 6, 0.97),
	}
}

func fieldWith(t *testing.T, rec model.InvoiceRecord, kind model.FieldKind, role string) model.ExtractedField {
	t.Helper()
	for _, f := range rec.Fields {
		if f.Kind == kind && f.Role == role {
			return f
		}
	}
	t.Fatalf("no %s/%s field", kind, role)
	return model.ExtractedField{}
}

func TestValidate_CleanInvoiceAccepted(t *testing.T) {
	rec := New(DefaultConfig(), nil).Validate(invoiceFields("120.00"))

	assert.Equal(t, model.VerdictAccepted, rec.Verdict)
	assert.Empty(t, rec.Reasons)
	assert.Equal(t, "pharmacy", rec.Category)
	assert.Equal(t, "Sunrise Pharmacy", rec.Header.ProviderName)
	assert.Equal(t, "1234567893", rec.Header.ProviderID)
	assert.Equal(t, "2024-03-14", rec.Header.InvoiceDate)
	assert.Equal(t, []string{"0093-4155-73", "0904-5853-61"}, rec.Header.Codes)

	require.Len(t, rec.LineItems, 2)
	assert.Equal(t, "Amoxicillin 500mg", rec.LineItems[0].Description)
	assert.True(t, decimal.RequireFromString("120").Equal(rec.ComputedTotal))
	require.NotNil(t, rec.StatedTotal)
	assert.True(t, decimal.RequireFromString("120").Equal(*rec.StatedTotal))

	assert.Equal(t, model.Confirmed, fieldWith(t, rec, model.FieldAmount, model.RoleTotal).Validation)
	assert.Equal(t, model.Confirmed, fieldWith(t, rec, model.FieldLineItem, "").Validation)
	assert.Equal(t, model.Unverified, fieldWith(t, rec, model.FieldDate, model.RoleInvoiceDate).Validation)
	assert.GreaterOrEqual(t, rec.Confidence, DefaultConfig().AcceptanceThreshold)
}

func TestValidate_ArithmeticMismatch(t *testing.T) {
	in := invoiceFields("121.00")
	rec := New(DefaultConfig(), nil).Validate(in)

	assert.Equal(t, model.VerdictNeedsReview, rec.Verdict)
	assert.True(t, rec.HasReason(model.ReasonArithmeticMismatch))
	assert.Len(t, rec.Fields, len(in))
	assert.Equal(t, model.Unverified, fieldWith(t, rec, model.FieldAmount, model.RoleTotal).Validation)
	assert.Equal(t, "pharmacy", rec.Category)
}

func TestValidate_WithinTolerance(t *testing.T) {
	rec := New(DefaultConfig(), nil).Validate(invoiceFields("120.01"))
	assert.Equal(t, model.VerdictAccepted, rec.Verdict)

	rec = New(DefaultConfig(), nil).Validate(invoiceFields("120.02"))
	assert.Equal(t, model.VerdictNeedsReview, rec.Verdict)
}

func TestValidate_NoFieldsRejected(t *testing.T) {
	rec := New(DefaultConfig(), nil).Validate(nil)
	assert.Equal(t, model.VerdictRejected, rec.Verdict)
	assert.True(t, rec.HasReason(model.ReasonNoConfidentFields))
	assert.Equal(t, model.CategoryUnknown, rec.Category)
	assert.Zero(t, rec.Confidence)
	assert.NotNil(t, rec.LineItems)
}

func TestValidate_OnlyLowConfidenceFieldsRejected(t *testing.T) {
	rec := New(DefaultConfig(), nil).Validate([]model.ExtractedField{
		amount("", "3.50", 0, 0, 0.3),
		fld(model.FieldCode, "cpt", "62704", 0, 10, 15, 0.5),
	})
	assert.Equal(t, model.VerdictRejected, rec.Verdict)
	assert.Len(t, rec.Fields, 2)
}

func TestValidate_ConflictingReadingsRejected(t *testing.T) {
	in := invoiceFields("120.00")
	in = append(in, amount(model.RoleTotal, "126.00", 4, 6, 0.9))
	rec := New(DefaultConfig(), nil).Validate(in)

	assert.Equal(t, model.VerdictNeedsReview, rec.Verdict)
	assert.True(t, rec.HasReason(model.ReasonConflictingFields))
	assert.True(t, rec.HasReason(model.ReasonMissingTotal))
	assert.Nil(t, rec.StatedTotal)

	rejected := 0
	for _, f := range rec.Fields {
		if f.Validation == model.Rejected {
			rejected++
			assert.Equal(t, model.RoleTotal, f.Role)
		}
	}
	assert.Equal(t, 2, rejected)
}

func TestValidate_WeakDisagreementDropped(t *testing.T) {
	in := invoiceFields("120.00")
	in = append(in, amount(model.RoleTotal, "126.00", 4, 6, 0.4))
	rec := New(DefaultConfig(), nil).Validate(in)

	assert.Equal(t, model.VerdictAccepted, rec.Verdict)
	assert.Len(t, rec.Fields, len(in)-1)
}

func TestValidate_DuplicatesCollapse(t *testing.T) {
	in := invoiceFields("120.00")
	in = append(in, fld(model.FieldDate, model.RoleInvoiceDate, "2024-03-14", 0, 39, 49, 0.8))
	rec := New(DefaultConfig(), nil).Validate(in)

	assert.Len(t, rec.Fields, len(in)-1)
	assert.InDelta(t, 0.96, fieldWith(t, rec, model.FieldDate, model.RoleInvoiceDate).Confidence, 1e-9)
}

func TestValidate_MissingPieces(t *testing.T) {
	in := invoiceFields("120.00")
	rec := New(DefaultConfig(), nil).Validate(in[:len(in)-1])
	assert.Equal(t, model.VerdictNeedsReview, rec.Verdict)
	assert.True(t, rec.HasReason(model.ReasonMissingTotal))

	rec = New(DefaultConfig(), nil).Validate([]model.ExtractedField{
		fld(model.FieldProviderID, model.RoleProviderName, "Sunrise Pharmacy", 0, 0, 16, 0.94),
		amount(model.RoleTotal, "120.00", 4, 6, 0.97),
	})
	assert.Equal(t, model.VerdictNeedsReview, rec.Verdict)
	assert.True(t, rec.HasReason(model.ReasonNoLineItems))
	assert.False(t, rec.HasReason(model.ReasonArithmeticMismatch))
}

func TestValidate_LowOverallConfidence(t *testing.T) {
	in := invoiceFields("120.00")
	for i := range in {
		if in[i].Kind == model.FieldCode {
			in[i].Confidence = 0.1
		}
	}
	cfg := DefaultConfig()
	cfg.AcceptanceThreshold = 0.85
	rec := New(cfg, nil).Validate(in)
	assert.Equal(t, model.VerdictNeedsReview, rec.Verdict)
	assert.True(t, rec.HasReason(model.ReasonLowConfidence))
	assert.Empty(t, rec.Header.Codes)
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	in := invoiceFields("120.00")
	New(DefaultConfig(), nil).Validate(in)
	for _, f := range in {
		assert.Equal(t, model.Unverified, f.Validation)
	}
}

func TestValidate_ArithmeticInvariant(t *testing.T) {
	properties := gopter.NewProperties(nil)
	v := New(DefaultConfig(), nil)

	properties.Property("accepted records balance within tolerance", prop.ForAll(
		func(cents []int64, delta int64) bool {
			var fields []model.ExtractedField
			sum := decimal.Zero
			for i, c := range cents {
				amt := decimal.New(c, -2)
				sum = sum.Add(amt)
				f := item("item", amt.StringFixed(2), "", i+1, 0.9)
				fields = append(fields, f)
			}
			total := sum.Add(decimal.New(delta, -2))
			fields = append(fields, amount(model.RoleTotal, total.StringFixed(2), len(cents)+1, 0, 0.95))

			rec := v.Validate(fields)
			balanced := rec.ComputedTotal.Sub(*rec.StatedTotal).Abs().LessThanOrEqual(decimal.New(1, -2))
			if rec.Verdict == model.VerdictAccepted && !balanced {
				return false
			}
			return (rec.Verdict == model.VerdictAccepted) == (delta >= -1 && delta <= 1)
		},
		gen.SliceOfN(4, gen.Int64Range(1, 100000)),
		gen.Int64Range(-300, 300),
	))

	properties.TestingRun(t)
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 0.6, cfg.Threshold(model.FieldProviderID), 1e-9)
	assert.InDelta(t, 0.7, cfg.Threshold("unknown"), 1e-9)

	cfg.Tolerance = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Thresholds["date"] = 2
	assert.Error(t, cfg.Validate())
}
