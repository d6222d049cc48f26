// Package filters decodes PDF stream filter chains.
package filters

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfshrink/ir/raw"
)

// ErrUnknownFilter is returned when a chain names a filter with no decoder.
var ErrUnknownFilter = errors.New("unknown filter")

// ErrSizeLimit is returned when decoded output exceeds Limits.MaxDecompressedSize.
var ErrSizeLimit = errors.New("decompressed size exceeds limit")

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params *raw.DictObj) ([]byte, error)
}

// BoundedDecoder is implemented by decoders that can stop expanding their
// input as soon as the output passes limit bytes. A limit of 0 means no limit.
type BoundedDecoder interface {
	Decoder
	DecodeBounded(ctx context.Context, input []byte, params *raw.DictObj, limit int64) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
}

type Pipeline struct {
	decoders []Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// NewStandardPipeline wires every general-purpose decoder in this package.
func NewStandardPipeline(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
		NewCCITTFaxDecoder(),
	}, limits)
}

func (p *Pipeline) findDecoder(name string) Decoder {
	name = CanonicalName(name)
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Limits returns the limits the pipeline was built with.
func (p *Pipeline) Limits() Limits { return p.limits }

// Decode applies filterNames in order. params[i] holds the DecodeParms for
// filterNames[i] and may be nil.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []*raw.DictObj) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, name)
		}
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		var out []byte
		var err error
		if bd, ok := dec.(BoundedDecoder); ok {
			out, err = bd.DecodeBounded(ctx, data, param, p.limits.MaxDecompressedSize)
		} else {
			out, err = dec.Decode(ctx, data, param)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dec.Name(), err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, ErrSizeLimit
		}
		data = out
	}
	return data, nil
}

var abbreviations = map[string]string{
	"AHx": "ASCIIHexDecode",
	"A85": "ASCII85Decode",
	"LZW": "LZWDecode",
	"Fl":  "FlateDecode",
	"RL":  "RunLengthDecode",
	"CCF": "CCITTFaxDecode",
	"DCT": "DCTDecode",
}

// CanonicalName expands the abbreviated filter names some producers emit.
func CanonicalName(name string) string {
	if full, ok := abbreviations[name]; ok {
		return full
	}
	return name
}

// readAllBounded reads r to the end, failing with ErrSizeLimit once more than
// limit bytes were produced. Whatever was read is returned next to a read error.
func readAllBounded(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if int64(len(out)) > limit {
		return nil, ErrSizeLimit
	}
	return out, err
}
