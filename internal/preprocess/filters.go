package preprocess

import (
	"image"
	"slices"
)

// StretchContrast maps the [clip, 1-clip] luminance percentiles onto the
// full 0..255 range.
func StretchContrast(g *image.Gray, clip float64) *image.Gray {
	var hist [256]int
	for _, p := range g.Pix {
		hist[p]++
	}
	total := len(g.Pix)
	if total == 0 {
		return g
	}
	cut := int(float64(total) * clip)
	lo, hi := 0, 255
	for acc := 0; lo < 255; lo++ {
		acc += hist[lo]
		if acc > cut {
			break
		}
	}
	for acc := 0; hi > 0; hi-- {
		acc += hist[hi]
		if acc > cut {
			break
		}
	}
	if hi <= lo {
		return g
	}
	var lut [256]uint8
	span := float64(hi - lo)
	for i := range lut {
		switch {
		case i <= lo:
			lut[i] = 0
		case i >= hi:
			lut[i] = 255
		default:
			lut[i] = uint8(float64(i-lo)*255/span + 0.5)
		}
	}
	out := image.NewGray(g.Bounds())
	for i, p := range g.Pix {
		out.Pix[i] = lut[p]
	}
	return out
}

// MedianFilter applies a 3x3 median filter. Border pixels use the clamped
// neighborhood.
func MedianFilter(g *image.Gray) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	var win [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				yy := min(max(y+dy, 0), h-1)
				for dx := -1; dx <= 1; dx++ {
					xx := min(max(x+dx, 0), w-1)
					win[n] = g.Pix[yy*g.Stride+xx]
					n++
				}
			}
			s := win[:]
			slices.Sort(s)
			out.Pix[y*out.Stride+x] = s[4]
		}
	}
	return out
}

// OtsuThreshold returns the luminance threshold maximizing between-class
// variance.
func OtsuThreshold(g *image.Gray) uint8 {
	var hist [256]float64
	for _, p := range g.Pix {
		hist[p]++
	}
	total := float64(len(g.Pix))
	if total == 0 {
		return 128
	}
	var sum float64
	for i, c := range hist {
		sum += float64(i) * c
	}
	var sumB, wB, best float64
	thresh := 128
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			thresh = t
		}
	}
	return uint8(thresh)
}

// Binarize maps pixels at or below t to black and the rest to white.
func Binarize(g *image.Gray, t uint8) *image.Gray {
	out := image.NewGray(g.Bounds())
	for i, p := range g.Pix {
		if p > t {
			out.Pix[i] = 255
		}
	}
	return out
}
