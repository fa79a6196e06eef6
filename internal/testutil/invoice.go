package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// Page geometry of synthetic invoices.
const (
	PageWidth  = 850
	PageHeight = 1100
	lineHeight = 20
	charWidth  = 11
)

// Item is one synthetic line item.
type Item struct {
	Description string
	Code        string
	Amount      string
}

// Invoice describes a synthetic single page invoice.
type Invoice struct {
	Provider string
	NPI      string
	Date     string
	Items    []Item
	Total    string
	// Confidence is assigned to every token; zero means 0.95.
	Confidence float64
}

// CleanInvoice is a pharmacy invoice whose two items add up to its total.
func CleanInvoice() Invoice {
	return Invoice{
		Provider: "Sunrise Pharmacy",
		NPI:      "1234567893",
		Date:     "03/14/2024",
		Items: []Item{
			{Description: "Amoxicillin 500mg", Code: "0093-4155-73", Amount: "$50.00"},
			{Description: "Ibuprofen 200mg", Code: "0904-5853-61", Amount: "$70.00"},
		},
		Total: "$120.00",
	}
}

// WithTotal returns a copy carrying a different stated total.
func (inv Invoice) WithTotal(total string) Invoice {
	inv.Total = total
	return inv
}

// Tokens lays the invoice out as OCR tokens on page 0.
func (inv Invoice) Tokens() []model.Token {
	conf := inv.Confidence
	if conf == 0 {
		conf = 0.95
	}
	var toks []model.Token
	words := func(text string, x, y int) {
		for _, w := range strings.Fields(text) {
			width := len(w) * charWidth
			toks = append(toks, model.Token{
				Text:       w,
				Box:        model.BBox{X: x, Y: y, W: width, H: lineHeight},
				Confidence: conf,
			})
			x += width + charWidth
		}
	}

	words(inv.Provider, 40, 40)
	if inv.NPI != "" {
		words("NPI: "+inv.NPI, 40, 70)
	}
	if inv.Date != "" {
		words("Date: "+inv.Date, 40, 100)
	}

	y := 300
	words("Description", 40, y)
	words("Code", 420, y)
	words("Amount", 640, y)
	for _, it := range inv.Items {
		y += 30
		words(it.Description, 40, y)
		if it.Code != "" {
			words(it.Code, 420, y)
		}
		words(it.Amount, 640, y)
	}
	if inv.Total != "" {
		y += 30
		words("Total", 40, y)
		words(inv.Total, 640, y)
	}
	return toks
}

// FixtureYAML renders the tokens in the static OCR fixture format.
func (inv Invoice) FixtureYAML() []byte {
	var b strings.Builder
	b.WriteString("pages:\n  - page: 0\n    tokens:\n")
	for _, t := range inv.Tokens() {
		fmt.Fprintf(&b, "      - {text: %q, x: %d, y: %d, w: %d, h: %d, conf: %g}\n",
			t.Text, t.Box.X, t.Box.Y, t.Box.W, t.Box.H, t.Confidence)
	}
	return []byte(b.String())
}

// Render draws the invoice tokens onto a white page.
func (inv Invoice) Render() *image.RGBA {
	return RenderTokens(inv.Tokens(), PageWidth, PageHeight)
}

// RenderTokens draws token text at token positions.
func RenderTokens(toks []model.Token, w, h int) *image.RGBA {
	img := BlankPage(w, h)
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	for _, t := range toks {
		drawer.Dot = fixed.P(t.Box.X, t.Box.Y+15)
		drawer.DrawString(t.Text)
	}
	return img
}

// BlankPage returns a white page.
func BlankPage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

// EncodePNG encodes img as PNG.
func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
