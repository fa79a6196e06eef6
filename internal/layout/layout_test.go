package layout

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/testutil"
)

func tok(text string, x, y, w int, conf float64) model.Token {
	return model.Token{Text: text, Box: model.BBox{X: x, Y: y, W: w, H: 20}, Confidence: conf}
}

func TestPage_InvoiceStructure(t *testing.T) {
	r := New(DefaultConfig())
	blocks := r.Page(Page{Index: 0, Height: testutil.PageHeight, Tokens: testutil.CleanInvoice().Tokens()})
	require.Len(t, blocks, 5)

	assert.Equal(t, model.BlockHeader, blocks[0].Kind)
	assert.Equal(t, "Sunrise Pharmacy\nNPI: 1234567893\nDate: 03/14/2024", blocks[0].Text())

	for _, b := range blocks[1:] {
		assert.Equal(t, model.BlockTableRow, b.Kind)
	}
	assert.Equal(t, []string{"Amoxicillin 500mg", "0093-4155-73", "$50.00"}, blocks[2].CellTexts())
	assert.Equal(t, []string{"Total", "$120.00"}, blocks[4].CellTexts())

	for i, b := range blocks {
		assert.Equal(t, i, b.Index)
	}
}

func TestPage_OnlyFirstTopBlockIsHeader(t *testing.T) {
	toks := []model.Token{
		tok("Sunrise", 50, 20, 80, 0.9),
		tok("Pharmacy", 140, 20, 90, 0.9),
		tok("Patient", 50, 120, 80, 0.9),
		tok("copy", 140, 120, 50, 0.9),
	}
	blocks := New(DefaultConfig()).Page(Page{Height: 1000, Tokens: toks})
	require.Len(t, blocks, 2)
	assert.Equal(t, model.BlockHeader, blocks[0].Kind)
	assert.Equal(t, model.BlockParagraph, blocks[1].Kind)
	assert.Equal(t, "Patient copy", blocks[1].Text())
}

func TestPage_OrderIndependentOfEmission(t *testing.T) {
	toks := testutil.CleanInvoice().Tokens()
	shuffled := make([]model.Token, len(toks))
	copy(shuffled, toks)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	r := New(DefaultConfig())
	a := r.Page(Page{Height: testutil.PageHeight, Tokens: toks})
	b := r.Page(Page{Height: testutil.PageHeight, Tokens: shuffled})
	assert.Equal(t, a, b)
}

func TestPage_OverlapKeepsHigherConfidenceAndAlternative(t *testing.T) {
	toks := []model.Token{
		tok("S0.00", 100, 100, 60, 0.4),
		tok("$50.00", 102, 101, 60, 0.9),
	}
	blocks := New(DefaultConfig()).Page(Page{Height: 1000, Tokens: toks})
	require.Len(t, blocks, 1)

	got := blocks[0].Tokens()
	require.Len(t, got, 1)
	assert.Equal(t, "$50.00", got[0].Text)
	require.Len(t, got[0].Alternatives, 1)
	assert.Equal(t, "S0.00", got[0].Alternatives[0].Text)
}

func TestPage_EveryTokenInAtMostOneBlock(t *testing.T) {
	toks := testutil.CleanInvoice().Tokens()
	blocks := New(DefaultConfig()).Page(Page{Height: testutil.PageHeight, Tokens: toks})

	seen := map[model.BBox]int{}
	total := 0
	for _, b := range blocks {
		for _, tk := range b.Tokens() {
			seen[tk.Box]++
			total++
		}
	}
	assert.Equal(t, len(toks), total)
	for box, n := range seen {
		assert.Equal(t, 1, n, "token at %+v", box)
	}
}

func TestPage_ParagraphsSplitOnVerticalGap(t *testing.T) {
	toks := []model.Token{
		tok("Thank", 40, 600, 55, 0.9), tok("you", 106, 600, 33, 0.9),
		tok("Questions?", 40, 625, 110, 0.9),
		tok("Remit", 40, 800, 55, 0.9),
	}
	blocks := New(DefaultConfig()).Page(Page{Height: 1100, Tokens: toks})
	require.Len(t, blocks, 2)
	assert.Equal(t, model.BlockParagraph, blocks[0].Kind)
	assert.Equal(t, "Thank you\nQuestions?", blocks[0].Text())
	assert.Equal(t, "Remit", blocks[1].Text())
}

func TestPage_SingleGappedLineIsNotATable(t *testing.T) {
	toks := []model.Token{tok("Left", 40, 600, 44, 0.9), tok("Right", 600, 600, 55, 0.9)}
	blocks := New(DefaultConfig()).Page(Page{Height: 1100, Tokens: toks})
	require.Len(t, blocks, 1)
	assert.Equal(t, model.BlockParagraph, blocks[0].Kind)
}

func TestPage_Empty(t *testing.T) {
	assert.Empty(t, New(DefaultConfig()).Page(Page{}))
}

func TestDocument_NumbersBlocksAcrossPages(t *testing.T) {
	r := New(DefaultConfig())
	blocks := r.Document([]Page{
		{Index: 0, Height: 1100, Tokens: []model.Token{tok("one", 40, 600, 33, 0.9)}},
		{Index: 1, Height: 1100, Tokens: []model.Token{tok("two", 40, 600, 33, 0.9)}},
	})
	require.Len(t, blocks, 2)
	assert.Equal(t, 0, blocks[0].Index)
	assert.Equal(t, 1, blocks[1].Index)
	assert.Equal(t, 1, blocks[1].Page)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.MinTableRows = 1
	assert.Error(t, cfg.Validate())
}
