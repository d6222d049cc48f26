package optimize

// CMYKToRGB converts one 8-bit CMYK sample to RGB as
// r = 255*(1-c/255)*(1-k/255), truncated. The product is computed in integers
// so the truncation is exact.
func CMYKToRGB(c, m, y, k byte) (r, g, b byte) {
	kk := 255 - int(k)
	r = byte((255 - int(c)) * kk / 255)
	g = byte((255 - int(m)) * kk / 255)
	b = byte((255 - int(y)) * kk / 255)
	return r, g, b
}

// GrayToRGB expands a luminance sample to an RGB triplet.
func GrayToRGB(v byte) (r, g, b byte) {
	return v, v, v
}
