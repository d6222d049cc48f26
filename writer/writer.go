// Package writer serializes a raw.Document as a complete, non-incremental
// PDF file with a classic cross-reference table.
package writer

import (
	"context"
	"io"

	"github.com/wudi/pdfshrink/ir/raw"
)

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF17 PDFVersion = "1.7"
)

type Config struct {
	// Version overrides the header version. Empty keeps the document's own
	// version, or 1.7 when it has none.
	Version PDFVersion
}

type Writer interface {
	Write(ctx context.Context, doc *raw.Document, w io.Writer, cfg Config) (int64, error)
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

type WriterBuilder struct{}

func (b *WriterBuilder) Build() Writer { return &impl{} }

// New returns the default writer.
func New() Writer { return (&WriterBuilder{}).Build() }
