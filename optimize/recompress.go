package optimize

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// Recompress scales img down to maxWidth when it is wider and encodes it as a
// baseline JPEG. It returns the encoded bytes and the final dimensions.
func Recompress(img image.Image, maxWidth int, quality float64) ([]byte, int, int, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, w, h, &CompressionError{Width: w, Height: h, Err: errors.New("empty image")}
	}
	if maxWidth > 0 && w > maxWidth {
		h = scaledHeight(w, h, maxWidth)
		w = maxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
		return nil, w, h, &CompressionError{Width: w, Height: h, Err: err}
	}
	return buf.Bytes(), w, h, nil
}

func scaledHeight(w, h, maxWidth int) int {
	nh := int(math.Round(float64(h) * float64(maxWidth) / float64(w)))
	if nh < 1 {
		nh = 1
	}
	return nh
}

func jpegQuality(q float64) int {
	n := int(math.Round(q))
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}
