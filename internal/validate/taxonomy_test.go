package validate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/testutil"
)

func codeField(system, value string) model.ExtractedField {
	return model.ExtractedField{Kind: model.FieldCode, Role: system, Value: value, Code: value}
}

func TestClassify(t *testing.T) {
	tax := DefaultTaxonomy()

	tests := []struct {
		name string
		ev   Evidence
		want string
	}{
		{
			name: "pharmacy provider and ndc codes",
			ev:   Evidence{Provider: "Sunrise Pharmacy", Codes: []model.ExtractedField{codeField("ndc", "0093-4155-73")}},
			want: "pharmacy",
		},
		{
			name: "lab panel",
			ev: Evidence{
				Provider:     "Quest Diagnostics",
				Descriptions: []string{"Comprehensive metabolic panel"},
				Codes:        []model.ExtractedField{codeField("cpt", "80053")},
			},
			want: "diagnostic",
		},
		{
			name: "office visit",
			ev: Evidence{
				Provider:     "Lakeside Clinic",
				Descriptions: []string{"Office visit"},
				Codes:        []model.ExtractedField{codeField("cpt", "99213")},
			},
			want: "procedure",
		},
		{
			name: "hyphenated keyword",
			ev:   Evidence{Descriptions: []string{"Chest X-Ray"}},
			want: "diagnostic",
		},
		{
			name: "no evidence",
			ev:   Evidence{Provider: "Thank you"},
			want: model.CategoryUnknown,
		},
		{
			name: "tie",
			ev:   Evidence{Descriptions: []string{"pharmacy", "laboratory"}},
			want: model.CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, scores := tax.Classify(tt.ev)
			assert.Equal(t, tt.want, got)
			assert.Len(t, scores, 3)
		})
	}
}

func TestClassify_CPTPrefixesIgnoreOtherSystems(t *testing.T) {
	tax := DefaultTaxonomy()
	got, scores := tax.Classify(Evidence{Codes: []model.ExtractedField{codeField("icd10", "E11.65")}})
	assert.Equal(t, model.CategoryUnknown, got)
	for _, s := range scores {
		assert.Zero(t, s)
	}
}

func TestLoadTaxonomy(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "taxonomy.yaml", []byte(`categories:
  - name: dental
    keywords: [Dental, Orthodontics, cleaning]
  - name: vision
    keywords: [optometry, lenses]
`))

	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)
	require.Len(t, tax.Categories, 2)
	assert.Equal(t, "dental", tax.Categories[0].Name)
	assert.Contains(t, tax.Categories[0].Keywords, "dental")

	got, _ := tax.Classify(Evidence{Provider: "Bright Dental", Descriptions: []string{"Cleaning"}})
	assert.Equal(t, "dental", got)

	_, err = LoadTaxonomy(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestParseTaxonomy_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":        "categories: []\n",
		"blank name":   "categories:\n  - name: \"\"\n",
		"unknown name": "categories:\n  - name: unknown\n",
		"duplicate":    "categories:\n  - name: a\n  - name: a\n",
		"malformed":    "categories: [",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTaxonomy([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestValidator_UsesCustomTaxonomy(t *testing.T) {
	tax, err := ParseTaxonomy([]byte("categories:\n  - name: retail\n    keywords: [pharmacy]\n"))
	require.NoError(t, err)

	v := New(DefaultConfig(), tax)
	assert.Same(t, tax, v.Taxonomy())
	rec := v.Validate(invoiceFields("120.00"))
	assert.Equal(t, "retail", rec.Category)
}
