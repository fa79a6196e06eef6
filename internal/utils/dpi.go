package utils

import (
	"bytes"
	"encoding/binary"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// DetectDPI reads the horizontal density from PNG pHYs or JPEG JFIF headers.
func DetectDPI(data []byte) (float64, bool) {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return pngDPI(data)
	case len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8:
		return jfifDPI(data)
	default:
		return 0, false
	}
}

func pngDPI(data []byte) (float64, bool) {
	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos:]))
		typ := string(data[pos+4 : pos+8])
		body := pos + 8
		if length < 0 || body+length > len(data) {
			return 0, false
		}
		switch typ {
		case "pHYs":
			if length < 9 {
				return 0, false
			}
			ppu := binary.BigEndian.Uint32(data[body:])
			if data[body+8] != 1 || ppu == 0 {
				return 0, false
			}
			return float64(ppu) * 0.0254, true
		case "IDAT", "IEND":
			return 0, false
		}
		pos = body + length + 4
	}
	return 0, false
}

func jfifDPI(data []byte) (float64, bool) {
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return 0, false
		}
		marker := data[pos+1]
		if marker == 0xDA || marker == 0xD9 {
			return 0, false
		}
		length := int(binary.BigEndian.Uint16(data[pos+2:]))
		seg := data[pos+4 : min(len(data), pos+2+length)]
		if marker == 0xE0 && len(seg) >= 12 && bytes.HasPrefix(seg, []byte("JFIF\x00")) {
			units := seg[7]
			x := float64(binary.BigEndian.Uint16(seg[8:]))
			switch {
			case x == 0:
				return 0, false
			case units == 1:
				return x, true
			case units == 2:
				return x * 2.54, true
			default:
				return 0, false
			}
		}
		pos += 2 + length
	}
	return 0, false
}
