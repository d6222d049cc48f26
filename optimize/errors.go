package optimize

import (
	"errors"
	"fmt"
)

// Per-image errors. They are recorded in Result.Failures and never stop a run.
var (
	ErrUnsupportedFilter     = errors.New("unsupported filter")
	ErrUnsupportedColorSpace = errors.New("unsupported colorspace")
	ErrMissingDimensions     = errors.New("image has no width or height")
	ErrImageTooLarge         = errors.New("image too large")
)

// Document-level error kinds. A DocumentError always unwraps to one of them.
var (
	ErrDocumentIO    = errors.New("document i/o error")
	ErrDocumentParse = errors.New("document parse error")
	ErrDocumentSave  = errors.New("document save error")
)

// DecodeError reports raw samples that cannot be turned into pixels.
type DecodeError struct {
	ColorSpace       string
	BitsPerComponent int
	Expected         int
	Actual           int
	Err              error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q image: %v", e.ColorSpace, e.Err)
	}
	return fmt.Sprintf("decode %q image: expected %d bytes, got %d", e.ColorSpace, e.Expected, e.Actual)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CompressionError reports an encoder rejection.
type CompressionError struct {
	Width  int
	Height int
	Err    error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("encode %dx%d jpeg: %v", e.Width, e.Height, e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }

// DocumentError is a fatal failure to load, prune or save a document.
type DocumentError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *DocumentError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DocumentError) Unwrap() []error { return []error{e.Kind, e.Err} }
