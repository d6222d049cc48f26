package filters

import (
	"context"
	"errors"

	"github.com/wudi/pdfshrink/ir/raw"
)

type runLengthDecoder struct{}

func (runLengthDecoder) Name() string { return "RunLengthDecode" }
func NewRunLengthDecoder() Decoder    { return runLengthDecoder{} }

func (d runLengthDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	return d.DecodeBounded(ctx, in, params, 0)
}

func (runLengthDecoder) DecodeBounded(ctx context.Context, in []byte, params *raw.DictObj, limit int64) ([]byte, error) {
	out := make([]byte, 0, len(in)*2)
	for i := 0; i < len(in); {
		if limit > 0 && int64(len(out)) > limit {
			return nil, ErrSizeLimit
		}
		n := int(in[i])
		i++
		switch {
		case n == 128: // EOD
			return out, nil
		case n < 128:
			end := i + n + 1
			if end > len(in) {
				return nil, errors.New("run length literal exceeds input")
			}
			out = append(out, in[i:end]...)
			i = end
		default:
			if i >= len(in) {
				return nil, errors.New("run length repeat missing byte")
			}
			for k := 0; k < 257-n; k++ {
				out = append(out, in[i])
			}
			i++
		}
	}
	return out, nil
}
