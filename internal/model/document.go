// Package model holds the data types that flow between pipeline stages:
// documents and their status, OCR tokens, layout blocks, extracted fields
// and the final invoice record.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Status is the processing status of a Document.
type Status string

const (
	StatusReceived      Status = "received"
	StatusPreprocessing Status = "preprocessing"
	StatusOCR           Status = "ocr"
	StatusExtracting    Status = "extracting"
	StatusValidating    Status = "validating"
	StatusComplete      Status = "complete"
	StatusFailed        Status = "failed"
)

// ErrInvalidTransition is returned when a status change would move backward
// or leave a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

func (s Status) rank() int {
	switch s {
	case StatusReceived:
		return 0
	case StatusPreprocessing:
		return 1
	case StatusOCR:
		return 2
	case StatusExtracting:
		return 3
	case StatusValidating:
		return 4
	case StatusComplete, StatusFailed:
		return 5
	default:
		return -1
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.rank() >= 0 }

// PageSpan is a declared page boundary inside the raw document bytes.
type PageSpan struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// ParsePageSpans parses "offset:length" pairs separated by commas. An empty
// string yields no spans.
func ParsePageSpans(s string) ([]PageSpan, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]PageSpan, 0, len(parts))
	for _, part := range parts {
		off, length, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("page span %q: want offset:length", part)
		}
		o, err := strconv.ParseInt(strings.TrimSpace(off), 10, 64)
		if err != nil || o < 0 {
			return nil, fmt.Errorf("page span %q: invalid offset", part)
		}
		l, err := strconv.ParseInt(strings.TrimSpace(length), 10, 64)
		if err != nil || l <= 0 {
			return nil, fmt.Errorf("page span %q: invalid length", part)
		}
		out = append(out, PageSpan{Offset: o, Length: l})
	}
	return out, nil
}

// Document is one uploaded invoice. The orchestrator owns it while it runs.
type Document struct {
	ID    string
	Name  string
	Data  []byte
	Pages []PageSpan

	status  Status
	history []Status
	failure *Failure
}

// NewDocument creates a received document with a fresh random id.
func NewDocument(name string, data []byte, pages []PageSpan) *Document {
	return NewDocumentWithID(uuid.NewString(), name, data, pages)
}

// NewDocumentWithID creates a received document with a caller supplied id.
func NewDocumentWithID(id, name string, data []byte, pages []PageSpan) *Document {
	return &Document{
		ID:      id,
		Name:    name,
		Data:    data,
		Pages:   pages,
		status:  StatusReceived,
		history: []Status{StatusReceived},
	}
}

// PageCount returns the number of declared pages, at least one.
func (d *Document) PageCount() int {
	if len(d.Pages) == 0 {
		return 1
	}
	return len(d.Pages)
}

// PageBytes returns the raw bytes for every declared page.
func (d *Document) PageBytes() ([][]byte, error) {
	if len(d.Pages) == 0 {
		return [][]byte{d.Data}, nil
	}
	out := make([][]byte, 0, len(d.Pages))
	size := int64(len(d.Data))
	for i, p := range d.Pages {
		if p.Offset < 0 || p.Length <= 0 || p.Offset+p.Length > size {
			return nil, fmt.Errorf("page %d span [%d,+%d) outside document of %d bytes", i, p.Offset, p.Length, size)
		}
		out = append(out, d.Data[p.Offset:p.Offset+p.Length])
	}
	return out, nil
}

// Status returns the current status.
func (d *Document) Status() Status { return d.status }

// History returns every status the document has been in, in order.
func (d *Document) History() []Status {
	out := make([]Status, len(d.history))
	copy(out, d.history)
	return out
}

// Failure returns the failure descriptor of a failed document, or nil.
func (d *Document) Failure() *Failure { return d.failure }

// Advance moves the document forward to next. Moving to the current status,
// backward, or out of a terminal state fails with ErrInvalidTransition.
func (d *Document) Advance(next Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if d.status.Terminal() || next.rank() <= d.status.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.status, next)
	}
	d.status = next
	d.history = append(d.history, next)
	return nil
}

// Fail moves the document to StatusFailed and records the failure.
func (d *Document) Fail(f Failure) error {
	if err := d.Advance(StatusFailed); err != nil {
		return err
	}
	d.failure = &f
	return nil
}
