//go:build !ocr_gosseract

package ocr

import "errors"

func init() {
	Register("gosseract", func(Config) (Engine, error) {
		return nil, errors.New("gosseract backend not linked; build with -tags=ocr_gosseract")
	})
}
