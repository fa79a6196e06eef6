package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

func scan(text string) []model.ExtractedField {
	return scanLine(newLineContext(text, false, func(int, int) float64 { return 1 }), OrderMDY)
}

func only(t *testing.T, fields []model.ExtractedField, kind model.FieldKind) model.ExtractedField {
	t.Helper()
	var hits []model.ExtractedField
	for _, f := range fields {
		if f.Kind == kind {
			hits = append(hits, f)
		}
	}
	require.Len(t, hits, 1, "fields: %+v", fields)
	return hits[0]
}

func TestScanDates(t *testing.T) {
	tests := []struct {
		text  string
		value string
		role  string
		conf  float64
	}{
		{"Date: 03/14/2024", "2024-03-14", model.RoleInvoiceDate, weightDateNumeric},
		{"DOS 2024-03-14", "2024-03-14", model.RoleServiceDate, weightDateISO},
		{"Issued March 5, 2024", "2024-03-05", model.RoleInvoiceDate, weightDateText},
		{"seen 3/5/24", "2024-03-05", "", weightDateShortYear},
		{"Date 13/02/2024", "2024-02-13", model.RoleInvoiceDate, weightDateNumeric * swappedOrderFactor},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f := only(t, scan(tt.text), model.FieldDate)
			assert.Equal(t, tt.value, f.Value)
			assert.Equal(t, tt.role, f.Role)
			assert.InDelta(t, tt.conf, f.Confidence, 1e-9)
		})
	}
}

func TestScanDates_DayFirstOrder(t *testing.T) {
	lc := newLineContext("Datum 05.03.2024", false, func(int, int) float64 { return 1 })
	f := only(t, scanLine(lc, OrderDMY), model.FieldDate)
	assert.Equal(t, "2024-03-05", f.Value)
}

func TestScanDates_RejectsImpossibleDates(t *testing.T) {
	for _, text := range []string{"02/30/2024", "2024-13-01", "Feb 30, 2024"} {
		for _, f := range scan(text) {
			assert.NotEqual(t, model.FieldDate, f.Kind, text)
		}
	}
}

func TestScanAmounts(t *testing.T) {
	f := only(t, scan("Charge $1,234.50"), model.FieldAmount)
	assert.Equal(t, "1234.50", f.Value)
	assert.InDelta(t, weightAmountCurrencyCents, f.Confidence, 1e-9)
	assert.Equal(t, "$1,234.50", f.Span.Text)

	f = only(t, scan("Total due: $120.00"), model.FieldAmount)
	assert.Equal(t, model.RoleTotal, f.Role)
	assert.InDelta(t, weightAmountCurrencyCents+totalBonus, f.Confidence, 1e-9)

	f = only(t, scan("Subtotal 99.10"), model.FieldAmount)
	assert.Equal(t, model.RoleSubtotal, f.Role)
	assert.InDelta(t, weightAmountCents, f.Confidence, 1e-9)

	amounts := 0
	for _, f := range scan("Total 10.00 20.00") {
		if f.Kind == model.FieldAmount {
			amounts++
			if f.Value == "20.00" {
				assert.Equal(t, model.RoleTotal, f.Role)
			} else {
				assert.Empty(t, f.Role)
			}
		}
	}
	assert.Equal(t, 2, amounts)
}

func TestScanAmounts_IgnoresBareNumbersAndDates(t *testing.T) {
	for _, text := range []string{"Qty 3", "14.03.2024", "Room 500", "NPI 1234567893"} {
		for _, f := range scan(text) {
			assert.NotEqual(t, model.FieldAmount, f.Kind, text)
		}
	}
}

func TestScanProviderIDs(t *testing.T) {
	f := only(t, scan("NPI: 1234567893"), model.FieldProviderID)
	assert.Equal(t, model.RoleNPI, f.Role)
	assert.InDelta(t, weightNPIKeyword, f.Confidence, 1e-9)

	f = only(t, scan("ref 1234567893"), model.FieldProviderID)
	assert.InDelta(t, weightNPIChecksum, f.Confidence, 1e-9)

	f = only(t, scan("NPI 1234567890"), model.FieldProviderID)
	assert.InDelta(t, weightNPIBadChecksum, f.Confidence, 1e-9)

	for _, f := range scan("phone 5551234567") {
		assert.NotEqual(t, model.FieldProviderID, f.Kind)
	}

	f = only(t, scan("EIN 12-3456789"), model.FieldProviderID)
	assert.Equal(t, model.RoleTaxID, f.Role)
	assert.Equal(t, "12-3456789", f.Value)
	assert.InDelta(t, weightTaxIDKeyword, f.Confidence, 1e-9)
}

func TestValidNPI(t *testing.T) {
	assert.True(t, ValidNPI("1234567893"))
	assert.False(t, ValidNPI("1234567890"))
	assert.False(t, ValidNPI("123456789"))
	assert.False(t, ValidNPI("12345678a3"))
}

func TestScanCodes(t *testing.T) {
	tests := []struct {
		text   string
		system string
		value  string
	}{
		{"NDC 0093-4155-73", CodeNDC, "0093-4155-73"},
		{"CPT 99213 office visit", CodeCPT, "99213"},
		{"Injection J3490", CodeHCPCS, "J3490"},
		{"Dx E11.65", CodeICD10, "E11.65"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f := only(t, scan(tt.text), model.FieldCode)
			assert.Equal(t, tt.system, f.Role)
			assert.Equal(t, tt.value, f.Value)
			assert.Equal(t, tt.value, f.Code)
		})
	}
}

func TestScanCodes_NDCNotSplitIntoCPT(t *testing.T) {
	f := only(t, scan("12345-6789-01"), model.FieldCode)
	assert.Equal(t, CodeNDC, f.Role)
}

func TestScanCodes_ContextRaisesCPT(t *testing.T) {
	bare := only(t, scan("Springfield 62704"), model.FieldCode)
	lc := newLineContext("Office visit 99213", true, func(int, int) float64 { return 1 })
	row := only(t, scanLine(lc, OrderMDY), model.FieldCode)
	assert.Less(t, bare.Confidence, row.Confidence)
}

func TestScan_ConfidenceScaledByOCR(t *testing.T) {
	lc := newLineContext("$50.00", false, func(int, int) float64 { return 0.5 })
	f := only(t, scanLine(lc, OrderMDY), model.FieldAmount)
	assert.InDelta(t, weightAmountCurrencyCents*0.5, f.Confidence, 1e-9)
}

func TestParseAmount(t *testing.T) {
	d, ok := ParseAmount("$1,234.50")
	require.True(t, ok)
	assert.Equal(t, "1234.5", d.String())

	_, ok = ParseAmount("42")
	assert.False(t, ok)
	_, ok = ParseAmount("$1 and $2")
	assert.False(t, ok)
}
