package validate

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

const defaultTaxonomyYAML = `categories:
  - name: pharmacy
    keywords: [pharmacy, drugstore, apotheke, prescription, rx, refill, tablet, tablets, capsule, capsules, ointment, syrup, dispensed]
    code_systems: [ndc]
  - name: diagnostic
    keywords: [laboratory, lab, labs, diagnostics, diagnostic, radiology, imaging, x-ray, mri, ct, ultrasound, pathology, blood, panel, screening, specimen]
    code_prefixes: ["7", "8"]
  - name: procedure
    keywords: [surgery, surgical, procedure, clinic, hospital, visit, consultation, anesthesia, therapy, injection, physician, outpatient]
    code_systems: [hcpcs]
    code_prefixes: ["1", "2", "3", "4", "5", "6", "99"]
`

// Signal weights. Provider text is the strongest hint of what was billed.
const (
	providerWeight    = 2.0
	codeWeight        = 1.5
	descriptionWeight = 1.0
)

// DefaultTaxonomyYAML returns the built-in taxonomy.
func DefaultTaxonomyYAML() []byte { return []byte(defaultTaxonomyYAML) }

// Category is one class of the keyword taxonomy. CodePrefixes apply to CPT
// codes; CodeSystems match any code of that system.
type Category struct {
	Name         string   `yaml:"name" json:"name"`
	Keywords     []string `yaml:"keywords" json:"keywords"`
	CodeSystems  []string `yaml:"code_systems" json:"code_systems"`
	CodePrefixes []string `yaml:"code_prefixes" json:"code_prefixes"`
}

// Taxonomy classifies invoices by keyword and code evidence.
type Taxonomy struct {
	Categories []Category `yaml:"categories" json:"categories"`
}

// DefaultTaxonomy returns the built-in pharmacy/diagnostic/procedure taxonomy.
func DefaultTaxonomy() *Taxonomy {
	t, err := ParseTaxonomy([]byte(defaultTaxonomyYAML))
	if err != nil {
		panic(fmt.Sprintf("built-in taxonomy: %v", err))
	}
	return t
}

// LoadTaxonomy reads a taxonomy override file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy parses and checks a taxonomy.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if len(t.Categories) == 0 {
		return nil, fmt.Errorf("taxonomy has no categories")
	}
	seen := make(map[string]bool)
	for i, c := range t.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" || name == model.CategoryUnknown {
			return nil, fmt.Errorf("taxonomy category %d has invalid name %q", i, c.Name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate taxonomy category %q", name)
		}
		seen[name] = true
		for k, kw := range c.Keywords {
			t.Categories[i].Keywords[k] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	return &t, nil
}

// Evidence is the text a classification is based on.
type Evidence struct {
	Provider     string
	Descriptions []string
	Codes        []model.ExtractedField
}

// Classify returns the best scoring category, or unknown when nothing
// scores or the top score is tied.
func (t *Taxonomy) Classify(ev Evidence) (string, map[string]float64) {
	scores := make(map[string]float64, len(t.Categories))
	provider := words(ev.Provider)
	var descs []map[string]bool
	for _, d := range ev.Descriptions {
		descs = append(descs, words(d))
	}

	for _, c := range t.Categories {
		var s float64
		for _, kw := range c.Keywords {
			if provider[kw] {
				s += providerWeight
			}
			for _, d := range descs {
				if d[kw] {
					s += descriptionWeight
				}
			}
		}
		for _, code := range ev.Codes {
			if codeMatches(c, code) {
				s += codeWeight
			}
		}
		scores[c.Name] = s
	}

	names := make([]string, 0, len(scores))
	for n := range scores {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if scores[names[i]] != scores[names[j]] {
			return scores[names[i]] > scores[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) == 0 || scores[names[0]] == 0 {
		return model.CategoryUnknown, scores
	}
	if len(names) > 1 && scores[names[0]] == scores[names[1]] {
		return model.CategoryUnknown, scores
	}
	return names[0], scores
}

func codeMatches(c Category, code model.ExtractedField) bool {
	for _, sys := range c.CodeSystems {
		if strings.EqualFold(sys, code.Role) {
			return true
		}
	}
	if code.Role != "cpt" {
		return false
	}
	for _, p := range c.CodePrefixes {
		if strings.HasPrefix(code.Value, p) {
			return true
		}
	}
	return false
}

// words lowercases text into a set of words; hyphenated words are kept whole
// and also split.
func words(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	}) {
		w = strings.Trim(w, "-")
		if w == "" {
			continue
		}
		out[w] = true
		for _, part := range strings.Split(w, "-") {
			if part != "" {
				out[part] = true
			}
		}
	}
	return out
}
