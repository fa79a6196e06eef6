package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/shopspring/decimal"
)

// Pattern weights. A match's confidence is its weight scaled by
// the OCR confidence of the tokens it covers.
const (
	weightAmountCurrencyCents = 0.9
	weightAmountCurrency      = 0.75
	weightAmountCents         = 0.65
	totalBonus                = 0.05

	weightDateISO       = 0.95
	weightDateText      = 0.9
	weightDateNumeric   = 0.85
	weightDateShortYear = 0.7
	swappedOrderFactor  = 0.85

	weightNPIKeyword     = 0.95
	weightNPIChecksum    = 0.8
	weightNPIBadChecksum = 0.5
	weightTaxIDKeyword   = 0.9
	weightTaxID          = 0.65

	weightNDC        = 0.9
	weightHCPCS      = 0.8
	weightICDDotted  = 0.85
	weightICD        = 0.6
	weightCPT        = 0.6
	codeContextBonus = 0.25
	icdKeywordBonus  = 0.1
)

var (
	amountRe = regexp.MustCompile(`(?i)(?:(\$|€|£|usd|eur)\s?)?(\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+(?:\.\d{2})?)`)

	isoDateRe  = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	numDateRe  = regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4}|\d{2})\b`)
	textDateRe = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2}),?\s+(\d{4})\b`)

	npiRe   = regexp.MustCompile(`\b(\d{10})\b`)
	taxIDRe = regexp.MustCompile(`\b(\d{2}-\d{7})\b`)

	ndcRe   = regexp.MustCompile(`\b(\d{4}-\d{4}-\d{2}|\d{5}-\d{3}-\d{2}|\d{5}-\d{4}-\d{1,2})\b`)
	hcpcsRe = regexp.MustCompile(`\b([A-V]\d{4})\b`)
	icdRe   = regexp.MustCompile(`\b([A-TV-Z]\d{2}(?:\.[0-9A-Z]{1,4})?)\b`)
	cptRe   = regexp.MustCompile(`\b(\d{4}[0-9FT])\b`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// Date orders for ambiguous numeric dates.
const (
	OrderMDY = "MDY"
	OrderDMY = "DMY"
)

// lineContext is one line handed to the rule pass. Offsets produced by the
// scanners are rune offsets into text.
type lineContext struct {
	text     string
	lower    string
	words    map[string]bool
	tableRow bool
	conf     func(start, end int) float64
}

func newLineContext(text string, tableRow bool, conf func(start, end int) float64) lineContext {
	lc := lineContext{text: text, lower: strings.ToLower(text), words: make(map[string]bool), tableRow: tableRow, conf: conf}
	for _, w := range strings.FieldsFunc(lc.lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		lc.words[w] = true
	}
	return lc
}

// hasWord matches whole words only.
func (lc lineContext) hasWord(words ...string) bool {
	for _, w := range words {
		if lc.words[w] {
			return true
		}
	}
	return false
}

func (lc lineContext) has(words ...string) bool {
	for _, w := range words {
		if strings.Contains(lc.lower, w) {
			return true
		}
	}
	return false
}

// match is a regexp match converted to rune offsets.
type match struct {
	start, end int
	groups     []string
}

func findAll(re *regexp.Regexp, s string) []match {
	var out []match
	for _, idx := range re.FindAllStringSubmatchIndex(s, -1) {
		m := match{start: runeOffset(s, idx[0]), end: runeOffset(s, idx[1])}
		for g := 0; g < len(idx); g += 2 {
			if idx[g] < 0 {
				m.groups = append(m.groups, "")
				continue
			}
			m.groups = append(m.groups, s[idx[g]:idx[g+1]])
		}
		out = append(out, m)
	}
	return out
}

type occupied [][2]int

func (o *occupied) add(start, end int) { *o = append(*o, [2]int{start, end}) }

func (o occupied) overlaps(start, end int) bool {
	for _, r := range o {
		if start < r[1] && r[0] < end {
			return true
		}
	}
	return false
}

// scanLine runs every rule over one line. Spans are line-local.
func scanLine(lc lineContext, dateOrder string) []model.ExtractedField {
	var out []model.ExtractedField
	var taken occupied

	dates := scanDates(lc, dateOrder)
	for _, f := range dates {
		taken.add(f.Span.Start, f.Span.End)
	}
	ids := scanProviderIDs(lc, taken)
	for _, f := range ids {
		taken.add(f.Span.Start, f.Span.End)
	}
	codes := scanCodes(lc, &taken)
	amounts := scanAmounts(lc, taken)

	out = append(out, dates...)
	out = append(out, ids...)
	out = append(out, codes...)
	out = append(out, amounts...)
	return out
}

func field(lc lineContext, kind model.FieldKind, role, value string, start, end int, weight float64) model.ExtractedField {
	return model.ExtractedField{
		Kind:       kind,
		Role:       role,
		Value:      value,
		Span:       model.Span{Start: start, End: end, Text: runeSlice(lc.text, start, end)},
		Confidence: model.ClampConfidence(weight * lc.conf(start, end)),
		Validation: model.Unverified,
		Source:     model.FromRule,
	}
}

// isolatedNumber rejects numeric matches glued to further digits, such as
// the "14.03" in "14.03.2024".
func isolatedNumber(s string, start, end int) bool {
	r := []rune(s)
	if start > 0 {
		switch p := r[start-1]; {
		case isDigit(p), p == '.', p == ',', p == '/', p == '-':
			return false
		}
	}
	if end < len(r) {
		n := r[end]
		if isDigit(n) {
			return false
		}
		if (n == '.' || n == ',' || n == '/' || n == '-') && end+1 < len(r) && isDigit(r[end+1]) {
			return false
		}
	}
	return true
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// ParseAmount parses a currency amount such as "$1,234.50".
func ParseAmount(s string) (decimal.Decimal, bool) {
	ms := findAll(amountRe, strings.TrimSpace(s))
	if len(ms) != 1 {
		return decimal.Decimal{}, false
	}
	m := ms[0]
	if m.groups[1] == "" && !strings.Contains(m.groups[2], ".") {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m.groups[2], ",", ""))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func scanAmounts(lc lineContext, taken occupied) []model.ExtractedField {
	var out []model.ExtractedField
	for _, m := range findAll(amountRe, lc.text) {
		cur, num := m.groups[1], m.groups[2]
		hasCents := strings.Contains(num, ".")
		var weight float64
		switch {
		case cur != "" && hasCents:
			weight = weightAmountCurrencyCents
		case cur != "":
			weight = weightAmountCurrency
		case hasCents:
			weight = weightAmountCents
		default:
			continue
		}
		if taken.overlaps(m.start, m.end) || !isolatedNumber(lc.text, m.start, m.end) {
			continue
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(num, ",", ""))
		if err != nil {
			continue
		}
		f := field(lc, model.FieldAmount, "", d.StringFixed(2), m.start, m.end, weight)
		f.Amount = d
		out = append(out, f)
	}
	if len(out) == 0 {
		return out
	}

	last := &out[len(out)-1]
	switch {
	case lc.has("subtotal", "sub-total", "sub total"):
		last.Role = model.RoleSubtotal
	case lc.has("total", "amount due", "balance due"):
		last.Role = model.RoleTotal
		last.Confidence = model.ClampConfidence(last.Confidence + totalBonus)
	}
	return out
}

func scanDates(lc lineContext, order string) []model.ExtractedField {
	role := ""
	switch {
	case lc.has("service") || lc.hasWord("dos"):
		role = model.RoleServiceDate
	case lc.has("invoice", "date", "issued", "statement", "bill"):
		role = model.RoleInvoiceDate
	}

	var out []model.ExtractedField
	var taken occupied
	for _, m := range findAll(isoDateRe, lc.text) {
		y, _ := strconv.Atoi(m.groups[1])
		mo, _ := strconv.Atoi(m.groups[2])
		d, _ := strconv.Atoi(m.groups[3])
		if v, ok := isoDate(y, mo, d); ok {
			out = append(out, field(lc, model.FieldDate, role, v, m.start, m.end, weightDateISO))
			taken.add(m.start, m.end)
		}
	}
	for _, m := range findAll(textDateRe, lc.text) {
		mo := months[strings.ToLower(m.groups[1])]
		d, _ := strconv.Atoi(m.groups[2])
		y, _ := strconv.Atoi(m.groups[3])
		if v, ok := isoDate(y, int(mo), d); ok && !taken.overlaps(m.start, m.end) {
			out = append(out, field(lc, model.FieldDate, role, v, m.start, m.end, weightDateText))
			taken.add(m.start, m.end)
		}
	}
	for _, m := range findAll(numDateRe, lc.text) {
		if taken.overlaps(m.start, m.end) {
			continue
		}
		a, _ := strconv.Atoi(m.groups[1])
		b, _ := strconv.Atoi(m.groups[2])
		y, _ := strconv.Atoi(m.groups[3])
		weight := weightDateNumeric
		if len(m.groups[3]) == 2 {
			weight = weightDateShortYear
			if y < 70 {
				y += 2000
			} else {
				y += 1900
			}
		}
		mo, d := a, b
		if order == OrderDMY {
			mo, d = b, a
		}
		v, ok := isoDate(y, mo, d)
		if !ok {
			v, ok = isoDate(y, d, mo)
			weight *= swappedOrderFactor
		}
		if ok {
			out = append(out, field(lc, model.FieldDate, role, v, m.start, m.end, weight))
		}
	}
	return out
}

// isoDate formats a calendar date as YYYY-MM-DD when it exists.
func isoDate(y, m, d int) (string, bool) {
	if y < 1900 || y > 2100 || m < 1 || m > 12 || d < 1 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return "", false
	}
	return t.Format(time.DateOnly), true
}

// ValidNPI applies the Luhn check with the 80840 issuer prefix.
func ValidNPI(npi string) bool {
	if len(npi) != 10 {
		return false
	}
	return luhn("80840" + npi)
}

func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		n := int(c - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

func scanProviderIDs(lc lineContext, taken occupied) []model.ExtractedField {
	var out []model.ExtractedField
	npiKeyword := lc.hasWord("npi")
	for _, m := range findAll(npiRe, lc.text) {
		if taken.overlaps(m.start, m.end) {
			continue
		}
		var weight float64
		switch valid := ValidNPI(m.groups[1]); {
		case valid && npiKeyword:
			weight = weightNPIKeyword
		case valid:
			weight = weightNPIChecksum
		case npiKeyword:
			weight = weightNPIBadChecksum
		default:
			continue
		}
		out = append(out, field(lc, model.FieldProviderID, model.RoleNPI, m.groups[1], m.start, m.end, weight))
	}
	for _, m := range findAll(taxIDRe, lc.text) {
		if taken.overlaps(m.start, m.end) {
			continue
		}
		weight := weightTaxID
		if lc.has("tax") || lc.hasWord("ein", "tin", "fein") {
			weight = weightTaxIDKeyword
		}
		out = append(out, field(lc, model.FieldProviderID, model.RoleTaxID, m.groups[1], m.start, m.end, weight))
	}
	return out
}

// Code systems recorded as the role of code fields.
const (
	CodeNDC   = "ndc"
	CodeCPT   = "cpt"
	CodeHCPCS = "hcpcs"
	CodeICD10 = "icd10"
)

func scanCodes(lc lineContext, taken *occupied) []model.ExtractedField {
	var out []model.ExtractedField
	add := func(role, value string, start, end int, weight float64) {
		f := field(lc, model.FieldCode, role, value, start, end, weight)
		f.Code = value
		out = append(out, f)
		taken.add(start, end)
	}
	for _, m := range findAll(ndcRe, lc.text) {
		if !taken.overlaps(m.start, m.end) {
			add(CodeNDC, m.groups[1], m.start, m.end, weightNDC)
		}
	}
	for _, m := range findAll(hcpcsRe, lc.text) {
		if !taken.overlaps(m.start, m.end) {
			add(CodeHCPCS, m.groups[1], m.start, m.end, weightHCPCS)
		}
	}
	for _, m := range findAll(icdRe, lc.text) {
		if taken.overlaps(m.start, m.end) {
			continue
		}
		weight := weightICD
		if strings.Contains(m.groups[1], ".") {
			weight = weightICDDotted
		}
		if lc.has("icd", "diag") || lc.hasWord("dx") {
			weight += icdKeywordBonus
		}
		add(CodeICD10, m.groups[1], m.start, m.end, weight)
	}
	for _, m := range findAll(cptRe, lc.text) {
		if taken.overlaps(m.start, m.end) || !isolatedNumber(lc.text, m.start, m.end) {
			continue
		}
		weight := weightCPT
		if lc.tableRow || lc.has("procedure") || lc.hasWord("cpt") {
			weight += codeContextBonus
		}
		add(CodeCPT, m.groups[1], m.start, m.end, weight)
	}
	return out
}
