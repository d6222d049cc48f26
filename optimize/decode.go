package optimize

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPixels is the largest image DecodePixels allocates pixels for.
const MaxPixels = 1 << 28

const maxInt = int(^uint(0) >> 1)

// DecodePixels turns an image payload into pixels. Self-describing formats
// (JPEG, PNG, GIF, TIFF, BMP, WebP) are decoded as they are and the supplied
// geometry is ignored; anything else is read as raw samples.
func DecodePixels(data []byte, width, height int, cs ColorSpace, bpc int) (image.Image, error) {
	return decodePixels(data, width, height, cs, bpc, MaxPixels)
}

func decodePixels(data []byte, width, height int, cs ColorSpace, bpc int, maxPixels int64) (image.Image, error) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		if err := checkPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
			return nil, &DecodeError{ColorSpace: cs.Name, BitsPerComponent: bpc, Err: err}
		}
		if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
			return img, nil
		}
	}
	return decodeRaw(data, width, height, cs, bpc, maxPixels)
}

func checkPixels(width, height int, maxPixels int64) error {
	if width <= 0 || height <= 0 {
		return ErrMissingDimensions
	}
	if int64(width) > maxPixels/int64(height) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, width, height, maxPixels)
	}
	return nil
}

func decodeRaw(data []byte, width, height int, cs ColorSpace, bpc int, maxPixels int64) (image.Image, error) {
	comps := cs.Components()
	if comps == 0 {
		return nil, &DecodeError{ColorSpace: cs.Name, BitsPerComponent: bpc, Err: ErrUnsupportedColorSpace}
	}
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, &DecodeError{ColorSpace: cs.Name, BitsPerComponent: bpc, Err: fmt.Errorf("unsupported bits per component %d", bpc)}
	}
	if err := checkPixels(width, height, maxPixels); err != nil {
		return nil, &DecodeError{ColorSpace: cs.Name, BitsPerComponent: bpc, Err: err}
	}
	// Row and buffer sizes must fit in an int before they are multiplied out.
	if width > (maxInt-7)/(comps*bpc) || height > maxInt/8/(width+1) {
		return nil, &DecodeError{ColorSpace: cs.Name, BitsPerComponent: bpc, Err: fmt.Errorf("%w: %dx%d", ErrImageTooLarge, width, height)}
	}
	rowBytes := (width*comps*bpc + 7) / 8
	need := rowBytes * height
	if len(data) < need {
		return nil, &DecodeError{ColorSpace: cs.Name, BitsPerComponent: bpc, Expected: need, Actual: len(data)}
	}
	samples := data
	if bpc != 8 {
		samples = unpackSamples(data, width*comps, height, rowBytes, bpc)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < width*height; i, j = i+1, j+comps {
		var r, g, b byte
		switch cs.Family {
		case ColorGray:
			r, g, b = GrayToRGB(samples[j])
		case ColorRGB:
			r, g, b = samples[j], samples[j+1], samples[j+2]
		case ColorCMYK:
			r, g, b = CMYKToRGB(samples[j], samples[j+1], samples[j+2], samples[j+3])
		}
		p := img.Pix[i*4 : i*4+4 : i*4+4]
		p[0], p[1], p[2], p[3] = r, g, b, 0xff
	}
	return img, nil
}

// unpackSamples expands byte-padded rows of 1, 2, 4 or 16 bit samples into one
// byte per sample. Sub-byte samples are scaled to the full 0..255 range and
// 16 bit samples keep their high byte.
func unpackSamples(data []byte, perRow, rows, rowBytes, bpc int) []byte {
	out := make([]byte, perRow*rows)
	if bpc == 16 {
		for y := 0; y < rows; y++ {
			row := data[y*rowBytes:]
			for x := 0; x < perRow; x++ {
				out[y*perRow+x] = row[x*2]
			}
		}
		return out
	}
	max := byte(1<<bpc - 1)
	scale := 255 / max
	perByte := 8 / bpc
	for y := 0; y < rows; y++ {
		row := data[y*rowBytes:]
		for x := 0; x < perRow; x++ {
			shift := uint(8 - bpc*(x%perByte+1))
			out[y*perRow+x] = (row[x/perByte] >> shift & max) * scale
		}
	}
	return out
}
