package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a document failure.
type ErrorKind string

const (
	KindPreprocess ErrorKind = "PreprocessError"
	KindOCR        ErrorKind = "OCRError"
	KindExtraction ErrorKind = "ExtractionError"
	KindTimeout    ErrorKind = "Timeout"
	KindCanceled   ErrorKind = "Canceled"
	KindInternal   ErrorKind = "InternalError"
)

// ErrBackendUnavailable is wrapped by OCR backends that cannot be reached.
var ErrBackendUnavailable = errors.New("ocr backend unavailable")

// PreprocessError reports an undecodable or low quality page.
type PreprocessError struct {
	Page int
	Op   string
	Err  error
}

func (e *PreprocessError) Error() string {
	return fmt.Sprintf("preprocess page %d: %s: %v", e.Page, e.Op, e.Err)
}

func (e *PreprocessError) Unwrap() error { return e.Err }

// Kind implements Kinded.
func (e *PreprocessError) Kind() ErrorKind { return KindPreprocess }

// OCRError reports a backend failure after all attempts.
type OCRError struct {
	Backend  string
	Page     int
	Attempts int
	Err      error
}

func (e *OCRError) Error() string {
	return fmt.Sprintf("ocr backend %s failed on page %d after %d attempt(s): %v", e.Backend, e.Page, e.Attempts, e.Err)
}

func (e *OCRError) Unwrap() error { return e.Err }

// Kind implements Kinded.
func (e *OCRError) Kind() ErrorKind { return KindOCR }

// ExtractionError reports structurally invalid extractor input.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string { return "extraction: " + e.Reason }

// Kind implements Kinded.
func (e *ExtractionError) Kind() ErrorKind { return KindExtraction }

// TimeoutError reports an exhausted per-document budget.
type TimeoutError struct {
	Stage  Status
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("document budget %s exceeded during %s", e.Budget, e.Stage)
}

// Kind implements Kinded.
func (e *TimeoutError) Kind() ErrorKind { return KindTimeout }

// CanceledError reports that the caller gave up on a document.
type CanceledError struct {
	Stage Status
	Err   error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("canceled during %s: %v", e.Stage, e.Err)
}

func (e *CanceledError) Unwrap() error { return e.Err }

// Kind implements Kinded.
func (e *CanceledError) Kind() ErrorKind { return KindCanceled }

// Kinded is implemented by every declared stage error.
type Kinded interface {
	error
	Kind() ErrorKind
}

// KindOf returns the kind of err, KindInternal when it carries none.
func KindOf(err error) ErrorKind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// Failure describes why a document ended in StatusFailed.
type Failure struct {
	Stage   Status    `json:"stage"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s during %s: %s", f.Kind, f.Stage, f.Message)
}
