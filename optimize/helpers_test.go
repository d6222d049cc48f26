package optimize

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/wudi/pdfshrink/ir/raw"
)

// imageDocument returns a one-page document whose page resources name the
// given image objects Im1, Im2, ... . Images start at object 4.
func imageDocument(images ...*raw.StreamObj) *raw.Document {
	doc := raw.NewDocument()
	doc.Version = "1.7"

	catalog := raw.Dict()
	catalog.Set("Type", raw.NameLiteral("Catalog"))
	catalog.Set("Pages", raw.Ref(2, 0))
	doc.Objects[raw.ObjectRef{Num: 1}] = catalog

	pages := raw.Dict()
	pages.Set("Type", raw.NameLiteral("Pages"))
	pages.Set("Kids", raw.NewArray(raw.Ref(3, 0)))
	pages.Set("Count", raw.NumberInt(1))
	doc.Objects[raw.ObjectRef{Num: 2}] = pages

	xobjects := raw.Dict()
	for i, img := range images {
		num := 4 + i
		doc.Objects[raw.ObjectRef{Num: num}] = img
		xobjects.Set("Im"+string(rune('1'+i)), raw.Ref(num, 0))
	}
	resources := raw.Dict()
	resources.Set("XObject", xobjects)
	page := raw.Dict()
	page.Set("Type", raw.NameLiteral("Page"))
	page.Set("Parent", raw.Ref(2, 0))
	page.Set("MediaBox", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(612), raw.NumberInt(792)))
	page.Set("Resources", resources)
	doc.Objects[raw.ObjectRef{Num: 3}] = page

	doc.Trailer.Set("Root", raw.Ref(1, 0))
	return doc
}

func imageStream(width, height int, colorSpace string, data []byte) *raw.StreamObj {
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("XObject"))
	d.Set("Subtype", raw.NameLiteral("Image"))
	d.Set("Width", raw.NumberInt(int64(width)))
	d.Set("Height", raw.NumberInt(int64(height)))
	d.Set("ColorSpace", raw.NameLiteral(colorSpace))
	d.Set("BitsPerComponent", raw.NumberInt(8))
	d.Set("Length", raw.NumberInt(int64(len(data))))
	return raw.NewStream(d, data)
}

func flateImageStream(t *testing.T, width, height int, colorSpace string, data []byte) *raw.StreamObj {
	t.Helper()
	s := imageStream(width, height, colorSpace, zlibBytes(t, data))
	s.Dict.Set("Filter", raw.NameLiteral("FlateDecode"))
	return s
}

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return b.Bytes()
}

// gradient returns w*h*comps bytes that vary smoothly, so JPEG compresses them well.
func gradient(w, h, comps int) []byte {
	out := make([]byte, 0, w*h*comps)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < comps; c++ {
				out = append(out, byte((x+y+c*40)%256))
			}
		}
	}
	return out
}

func testOptimizer(t *testing.T, mutate func(*Config)) *Optimizer {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}
