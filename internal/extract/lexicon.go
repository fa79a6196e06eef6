package extract

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

const defaultLexiconYAML = `version: 1
labels:
  ORG:
    base: 0.0
    cues:
      pharmacy: 0.8
      drugstore: 0.8
      apotheke: 0.8
      clinic: 0.75
      hospital: 0.8
      medical: 0.6
      health: 0.55
      healthcare: 0.6
      laboratory: 0.8
      laboratories: 0.8
      labs: 0.7
      diagnostics: 0.8
      radiology: 0.8
      imaging: 0.7
      surgery: 0.7
      surgical: 0.7
      associates: 0.6
      practice: 0.6
      center: 0.5
      centre: 0.5
      group: 0.4
      llc: 0.6
      inc: 0.55
      pllc: 0.65
    gazetteer:
      cvs pharmacy: 0.95
      walgreens: 0.9
      rite aid: 0.9
      quest diagnostics: 0.95
      labcorp: 0.95
      mayo clinic: 0.95
  DATE:
    base: 0.55
    cues:
      date: 0.25
      dated: 0.25
      dos: 0.3
      service: 0.2
      issued: 0.2
      invoice: 0.15
      statement: 0.15
  MONEY:
    base: 0.5
    cues:
      total: 0.3
      amount: 0.2
      due: 0.25
      balance: 0.2
      charge: 0.15
      charges: 0.15
      fee: 0.15
      paid: 0.1
      price: 0.15
`

// DefaultLexiconYAML returns the built-in lexicon model.
func DefaultLexiconYAML() []byte { return []byte(defaultLexiconYAML) }

// LexiconModel is the on-disk lexicon NER model.
type LexiconModel struct {
	Version int                     `yaml:"version"`
	Labels  map[string]LabelLexicon `yaml:"labels"`
}

// LabelLexicon scores one label: Base plus the strongest cue seen nearby, or
// a gazetteer weight for a known name.
type LabelLexicon struct {
	Base      float64            `yaml:"base"`
	Cues      map[string]float64 `yaml:"cues"`
	Gazetteer map[string]float64 `yaml:"gazetteer"`
}

// Validate checks weights.
func (m LexiconModel) Validate() error {
	for label, l := range m.Labels {
		switch label {
		case LabelOrg, LabelDate, LabelMoney:
		default:
			return fmt.Errorf("lexicon: unknown label %q", label)
		}
		if l.Base < 0 || l.Base > 1 {
			return fmt.Errorf("lexicon: %s base %.2f outside [0,1]", label, l.Base)
		}
		for k, w := range l.Cues {
			if w < 0 || w > 1 {
				return fmt.Errorf("lexicon: %s cue %q weight %.2f outside [0,1]", label, k, w)
			}
		}
		for k, w := range l.Gazetteer {
			if w < 0 || w > 1 {
				return fmt.Errorf("lexicon: %s gazetteer %q weight %.2f outside [0,1]", label, k, w)
			}
		}
	}
	return nil
}

type gazEntry struct {
	words  []string
	weight float64
}

// Lexicon is a cue word and gazetteer tagger.
type Lexicon struct {
	model     LexiconModel
	gazetteer []gazEntry
}

var (
	defaultLexiconOnce sync.Once
	defaultLexicon     *Lexicon
)

// DefaultLexicon returns the built-in lexicon tagger.
func DefaultLexicon() *Lexicon {
	defaultLexiconOnce.Do(func() {
		l, err := ParseLexicon([]byte(defaultLexiconYAML))
		if err != nil {
			panic(fmt.Sprintf("built-in lexicon: %v", err))
		}
		defaultLexicon = l
	})
	return defaultLexicon
}

// LoadLexicon reads a lexicon model file.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path) //nolint:gosec // model path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read lexicon model: %w", err)
	}
	return ParseLexicon(data)
}

// ParseLexicon parses a lexicon model.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var m LexiconModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse lexicon model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	l := &Lexicon{model: m}
	for name, w := range m.Labels[LabelOrg].Gazetteer {
		var words []string
		for _, f := range strings.Fields(name) {
			if n := normWord(f); n != "" {
				words = append(words, n)
			}
		}
		if len(words) > 0 {
			l.gazetteer = append(l.gazetteer, gazEntry{words: words, weight: w})
		}
	}
	// Longer names first so "cvs pharmacy" wins over a bare cue match.
	sort.Slice(l.gazetteer, func(i, j int) bool {
		a, b := l.gazetteer[i], l.gazetteer[j]
		if len(a.words) != len(b.words) {
			return len(a.words) > len(b.words)
		}
		return strings.Join(a.words, " ") < strings.Join(b.words, " ")
	})
	return l, nil
}

// Name implements NER.
func (l *Lexicon) Name() string { return NERLexicon }

// Close implements NER.
func (l *Lexicon) Close() error { return nil }

var (
	moneyShape = regexp.MustCompile(`^[$€£]?\d{1,3}(?:,\d{3})*\.\d{2}$|^[$€£]?\d+\.\d{2}$|^[$€£]\d+$`)
	dateShape  = regexp.MustCompile(`^\d{1,4}[/.\-]\d{1,2}[/.\-]\d{2,4}$`)
	yearShape  = regexp.MustCompile(`^\d{4}$`)
	dayShape   = regexp.MustCompile(`^\d{1,2}$`)
)

// Tag implements NER.
func (l *Lexicon) Tag(text string) ([]Entity, error) {
	words := splitWords(text)
	var out []Entity
	out = append(out, l.tagOrgs(text, words)...)
	out = append(out, l.tagDates(text, words)...)
	out = append(out, l.tagMoney(text, words)...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (l *Lexicon) entity(text, label string, start, end int, score float64) Entity {
	return Entity{Label: label, Start: start, End: end, Text: runeSlice(text, start, end), Score: clampScore(score)}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 0.99 {
		return 0.99
	}
	return s
}

func (l *Lexicon) tagOrgs(text string, words []word) []Entity {
	org := l.model.Labels[LabelOrg]
	var out []Entity
	used := make([]bool, len(words))

	for _, g := range l.gazetteer {
		for i := 0; i+len(g.words) <= len(words); i++ {
			if used[i] || !matchesAt(words, i, g.words) {
				continue
			}
			last := i + len(g.words) - 1
			out = append(out, l.entity(text, LabelOrg, words[i].start, words[last].end, g.weight))
			for k := i; k <= last; k++ {
				used[k] = true
			}
		}
	}

	for i, w := range words {
		if used[i] || !capitalized(w.text) {
			continue
		}
		if _, ok := org.Cues[normWord(w.text)]; !ok {
			continue
		}
		lo, hi := i, i
		for lo > 0 && !used[lo-1] && words[lo-1].line == w.line && capitalized(words[lo-1].text) {
			lo--
		}
		for hi+1 < len(words) && !used[hi+1] && words[hi+1].line == w.line && capitalized(words[hi+1].text) {
			hi++
		}
		best := 0.0
		for k := lo; k <= hi; k++ {
			best = max(best, org.Cues[normWord(words[k].text)])
			used[k] = true
		}
		start, _ := trimmedBounds(words[lo])
		_, end := trimmedBounds(words[hi])
		out = append(out, l.entity(text, LabelOrg, start, end, org.Base+best))
	}
	return out
}

func matchesAt(words []word, i int, target []string) bool {
	line := words[i].line
	for k, t := range target {
		w := words[i+k]
		if w.line != line || normWord(w.text) != t {
			return false
		}
	}
	return true
}

// capitalized reports whether a word starts with an upper case letter or is
// an ampersand joining two name parts.
func capitalized(s string) bool {
	if s == "&" {
		return true
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			return unicode.IsUpper(r)
		}
		if unicode.IsDigit(r) {
			return false
		}
	}
	return false
}

// trimmedBounds strips surrounding punctuation except a leading currency sign.
func trimmedBounds(w word) (int, int) {
	r := []rune(w.text)
	lo, hi := 0, len(r)
	for lo < hi && !unicode.IsLetter(r[lo]) && !unicode.IsDigit(r[lo]) && !isCurrency(r[lo]) {
		lo++
	}
	for hi > lo && !unicode.IsLetter(r[hi-1]) && !unicode.IsDigit(r[hi-1]) {
		hi--
	}
	return w.start + lo, w.start + hi
}

func isCurrency(r rune) bool { return r == '$' || r == '€' || r == '£' }

// cueScore returns the strongest cue among up to three preceding words on
// the same line.
func cueScore(lex LabelLexicon, words []word, i int) float64 {
	best := 0.0
	for k := i - 1; k >= 0 && k >= i-3; k-- {
		if words[k].line != words[i].line {
			break
		}
		best = max(best, lex.Cues[normWord(words[k].text)])
	}
	return best
}

func (l *Lexicon) tagDates(text string, words []word) []Entity {
	lex, ok := l.model.Labels[LabelDate]
	if !ok {
		return nil
	}
	var out []Entity
	for i := 0; i < len(words); i++ {
		start, end := trimmedBounds(words[i])
		core := runeSlice(text, start, end)
		if dateShape.MatchString(core) {
			out = append(out, l.entity(text, LabelDate, start, end, lex.Base+cueScore(lex, words, i)))
			continue
		}
		if _, isMonth := months[monthKey(core)]; isMonth && i+2 < len(words) &&
			words[i+2].line == words[i].line {
			dayStart, dayEnd := trimmedBounds(words[i+1])
			yStart, yEnd := trimmedBounds(words[i+2])
			if dayShape.MatchString(runeSlice(text, dayStart, dayEnd)) && yearShape.MatchString(runeSlice(text, yStart, yEnd)) {
				out = append(out, l.entity(text, LabelDate, start, yEnd, lex.Base+cueScore(lex, words, i)))
				i += 2
			}
		}
	}
	return out
}

func monthKey(s string) string {
	s = strings.ToLower(s)
	if len(s) < 3 {
		return ""
	}
	return s[:3]
}

func (l *Lexicon) tagMoney(text string, words []word) []Entity {
	lex, ok := l.model.Labels[LabelMoney]
	if !ok {
		return nil
	}
	var out []Entity
	for i := 0; i < len(words); i++ {
		start, end := trimmedBounds(words[i])
		core := runeSlice(text, start, end)
		if isCurrencyWord(words[i].text) && i+1 < len(words) && words[i+1].line == words[i].line {
			start = words[i].start
			nStart, nEnd := trimmedBounds(words[i+1])
			if moneyShape.MatchString(runeSlice(text, nStart, nEnd)) {
				out = append(out, l.entity(text, LabelMoney, start, nEnd, lex.Base+cueScore(lex, words, i)))
				i++
				continue
			}
		}
		if moneyShape.MatchString(core) {
			out = append(out, l.entity(text, LabelMoney, start, end, lex.Base+cueScore(lex, words, i)))
		}
	}
	return out
}

func isCurrencyWord(s string) bool {
	switch strings.ToUpper(s) {
	case "$", "€", "£", "USD", "EUR":
		return true
	}
	return false
}
