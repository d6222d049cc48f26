package filters

import (
	"bytes"
	"context"

	"github.com/hhrutter/lzw"

	"github.com/wudi/pdfshrink/ir/raw"
)

type lzwDecoder struct{}

func (lzwDecoder) Name() string { return "LZWDecode" }
func NewLZWDecoder() Decoder    { return lzwDecoder{} }

func (d lzwDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	return d.DecodeBounded(ctx, in, params, 0)
}

func (lzwDecoder) DecodeBounded(ctx context.Context, in []byte, params *raw.DictObj, limit int64) ([]byte, error) {
	// EarlyChange defaults to 1.
	earlyChange := intParam(params, "EarlyChange", 1) == 1
	r := lzw.NewReader(bytes.NewReader(in), earlyChange)
	defer r.Close()

	out, err := readAllBounded(r, limit)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}
