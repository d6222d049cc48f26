package filters

import (
	"fmt"

	"github.com/wudi/pdfshrink/ir/raw"
)

// applyPredictor undoes the TIFF (2) or PNG (10-15) predictor named in params.
func applyPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	switch {
	case predictor <= 1:
		return data, nil
	case predictor == 2:
		return tiffPredictor(data, params)
	case predictor >= 10 && predictor <= 15:
		return pngPredictor(data, params)
	default:
		return nil, fmt.Errorf("unsupported predictor: %d", predictor)
	}
}

func predictorGeometry(params *raw.DictObj) (colors, bpc, columns int) {
	colors = intParam(params, "Colors", 1)
	bpc = intParam(params, "BitsPerComponent", 8)
	columns = intParam(params, "Columns", 1)
	if colors < 1 {
		colors = 1
	}
	if bpc < 1 {
		bpc = 8
	}
	if columns < 1 {
		columns = 1
	}
	return colors, bpc, columns
}

func tiffPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	colors, bpc, columns := predictorGeometry(params)
	if bpc != 8 {
		return nil, fmt.Errorf("TIFF predictor only supports 8 bits per component, got %d", bpc)
	}
	rowSize := columns * colors
	out := make([]byte, len(data))
	copy(out, data)
	for rowStart := 0; rowStart+rowSize <= len(out); rowStart += rowSize {
		for i := colors; i < rowSize; i++ {
			out[rowStart+i] += out[rowStart+i-colors]
		}
	}
	return out, nil
}

// pngPredictor decodes rows that each start with a PNG filter-type byte.
// A trailing partial row is dropped.
func pngPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	colors, bpc, columns := predictorGeometry(params)
	bpp := (colors*bpc + 7) / 8
	rowSize := (columns*colors*bpc + 7) / 8

	rows := len(data) / (rowSize + 1)
	out := make([]byte, 0, rows*rowSize)
	prev := make([]byte, rowSize)
	cur := make([]byte, rowSize)
	for r := 0; r < rows; r++ {
		line := data[r*(rowSize+1) : (r+1)*(rowSize+1)]
		filterType := line[0]
		copy(cur, line[1:])
		for i := 0; i < rowSize; i++ {
			var left, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch filterType {
			case 0:
			case 1:
				cur[i] += left
			case 2:
				cur[i] += up
			case 3:
				cur[i] += byte((int(left) + int(up)) / 2)
			case 4:
				cur[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("unknown PNG filter type %d in row %d", filterType, r)
			}
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
