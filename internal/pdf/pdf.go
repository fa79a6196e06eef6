// Package pdf splits scanned PDF invoices into page rasters. Scanners embed
// one image per page; the largest image of each page is taken as its raster.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	_ "golang.org/x/image/tiff"
)

// ErrNoPages is returned when a PDF carries no extractable page images.
var ErrNoPages = errors.New("pdf contains no page images")

var magic = []byte("%PDF")

// IsPDF reports whether data starts with the PDF magic.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, magic)
}

// Options selects pages and credentials.
type Options struct {
	// Pages is a range like "1-3,5"; empty means all pages.
	Pages       string
	Credentials *PasswordCredentials
}

// Page is the encoded raster of one PDF page.
type Page struct {
	Number int
	Data   []byte
	Format string
}

// ExtractPages writes data to a scratch directory, extracts the embedded
// images with pdfcpu and returns one raster per page in page order.
func ExtractPages(ctx context.Context, data []byte, opts Options) ([]Page, error) {
	if !IsPDF(data) {
		return nil, errors.New("input is not a PDF")
	}
	pageNumbers, err := parsePageRange(opts.Pages)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", opts.Pages, err)
	}

	tempDir, err := os.MkdirTemp("", "medinvoice-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	// pdfcpu names extracted files after the input: page_<num>_<name>.<ext>.
	inFile := filepath.Join(tempDir, "page.pdf")
	if err := os.WriteFile(inFile, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage pdf: %w", err)
	}

	working, err := NewPasswordHandler().Decrypt(inFile, opts.Credentials)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outDir := filepath.Join(tempDir, "images")
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	var pageStrings []string
	for _, n := range pageNumbers {
		pageStrings = append(pageStrings, strconv.Itoa(n))
	}
	if err := api.ExtractImagesFile(working, outDir, pageStrings, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	pages, err := collectPages(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to collect page images: %w", err)
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	return pages, nil
}

// PageCount returns the number of pages of a PDF document.
func PageCount(data []byte) (int, error) {
	tempDir, err := os.MkdirTemp("", "medinvoice-pdf-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	inFile := filepath.Join(tempDir, "page.pdf")
	if err := os.WriteFile(inFile, data, 0o600); err != nil {
		return 0, fmt.Errorf("failed to stage pdf: %w", err)
	}
	n, err := api.PageCountFile(inFile)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

type candidate struct {
	name string
	data []byte
	area int
}

// collectPages groups extracted files by page and keeps the largest image of
// every page. Files that are not page images or do not decode are skipped.
func collectPages(dir string) ([]Page, error) {
	best := make(map[int]candidate)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		pageNum, err := parsePageFromFilename(e.Name())
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name())) //nolint:gosec // G304: file inside our scratch dir
		if err != nil {
			continue
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			continue
		}
		c := candidate{name: e.Name(), data: data, area: cfg.Width * cfg.Height}
		cur, ok := best[pageNum]
		if !ok || c.area > cur.area || (c.area == cur.area && c.name < cur.name) {
			best[pageNum] = c
		}
	}

	pages := make([]Page, 0, len(best))
	for n, c := range best {
		pages = append(pages, Page{
			Number: n,
			Data:   c.data,
			Format: strings.TrimPrefix(filepath.Ext(c.name), "."),
		})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

// parsePageFromFilename extracts the page number from a pdfcpu extracted
// filename such as page_1_Im0.png.
func parsePageFromFilename(filename string) (int, error) {
	if !strings.HasPrefix(filename, "page_") {
		return 0, errors.New("not a page file")
	}
	parts := strings.Split(filename, "_")
	if len(parts) < 3 {
		return 0, errors.New("invalid filename format")
	}
	pageNum, err := strconv.Atoi(parts[1])
	if err != nil || pageNum < 1 {
		return 0, errors.New("invalid page number")
	}
	return pageNum, nil
}

// parsePageRange parses a page range string like "1-5" or "1,3,5".
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}
	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

// parseRangeToken parses either a single page ("3") or a range ("1-5").
func parseRangeToken(part string) ([]int, error) {
	if strings.Contains(part, "-") {
		rangeParts := strings.Split(part, "-")
		if len(rangeParts) != 2 {
			return nil, fmt.Errorf("invalid range format: %s", part)
		}
		start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
		if err != nil || start < 1 {
			return nil, fmt.Errorf("invalid start page: %s", rangeParts[0])
		}
		end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", rangeParts[1])
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := strconv.Atoi(part)
	if err != nil || page < 1 {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}
