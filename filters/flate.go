package filters

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	"github.com/wudi/pdfshrink/ir/raw"
)

type flateDecoder struct{}

func (flateDecoder) Name() string { return "FlateDecode" }
func NewFlateDecoder() Decoder    { return flateDecoder{} }

func (d flateDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	return d.DecodeBounded(ctx, in, params, 0)
}

func (flateDecoder) DecodeBounded(ctx context.Context, in []byte, params *raw.DictObj, limit int64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := readAllBounded(r, limit)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}

// Inflate performs a direct raw-deflate decode of data. A leading zlib header
// is skipped and a truncated tail keeps whatever was decoded before it; this
// recovers streams whose checksum or final block was damaged by a producer.
// Output beyond limit bytes fails with ErrSizeLimit; 0 means no limit.
func Inflate(data []byte, limit int64) ([]byte, error) {
	body := data
	if hasZlibHeader(data) {
		body = data[2:]
	}
	r := flate.NewReader(bytes.NewReader(body))
	defer r.Close()

	out, err := readAllBounded(r, limit)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) && len(out) > 0 {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

func hasZlibHeader(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	cmf, flg := data[0], data[1]
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
