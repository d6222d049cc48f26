package filters

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/image/ccitt"

	"github.com/wudi/pdfshrink/ir/raw"
)

type ccittFaxDecoder struct{}

func (ccittFaxDecoder) Name() string { return "CCITTFaxDecode" }
func NewCCITTFaxDecoder() Decoder    { return ccittFaxDecoder{} }

// Decode expands Group 3 (K=0) and Group 4 (K<0) fax data into byte-aligned
// rows of one bit per pixel, 0 meaning black unless BlackIs1 is set.
// Mixed 1D/2D Group 3 (K>0) is not supported.
func (d ccittFaxDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	return d.DecodeBounded(ctx, in, params, 0)
}

func (ccittFaxDecoder) DecodeBounded(ctx context.Context, in []byte, params *raw.DictObj, limit int64) ([]byte, error) {
	k := intParam(params, "K", 0)
	columns := intParam(params, "Columns", 1728)
	rows := intParam(params, "Rows", 0)
	if k > 0 {
		return nil, fmt.Errorf("mixed group 3 encoding (K=%d) not supported", k)
	}
	if columns <= 0 {
		return nil, fmt.Errorf("invalid Columns %d", columns)
	}
	sf := ccitt.Group3
	if k < 0 {
		sf = ccitt.Group4
	}
	if rows <= 0 {
		rows = ccitt.AutoDetectHeight
	}
	opts := &ccitt.Options{
		Align:  boolParam(params, "EncodedByteAlign", false),
		Invert: boolParam(params, "BlackIs1", false),
	}
	out, err := readAllBounded(ccitt.NewReader(bytes.NewReader(in), ccitt.MSB, sf, columns, rows, opts), limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}
