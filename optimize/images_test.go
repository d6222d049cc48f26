package optimize

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"math/rand"
	"reflect"
	"testing"

	"github.com/wudi/pdfshrink/filters"
	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/observability"
)

type logEntry struct {
	level  string
	msg    string
	fields map[string]interface{}
}

type recordingLogger struct {
	entries *[]logEntry
	fields  []observability.Field
}

func newRecordingLogger() recordingLogger {
	return recordingLogger{entries: &[]logEntry{}}
}

func (l recordingLogger) record(level, msg string, fields []observability.Field) {
	e := logEntry{level: level, msg: msg, fields: map[string]interface{}{}}
	for _, f := range append(append([]observability.Field{}, l.fields...), fields...) {
		e.fields[f.Key()] = f.Value()
	}
	*l.entries = append(*l.entries, e)
}

func (l recordingLogger) Debug(msg string, f ...observability.Field) { l.record("debug", msg, f) }
func (l recordingLogger) Info(msg string, f ...observability.Field)  { l.record("info", msg, f) }
func (l recordingLogger) Warn(msg string, f ...observability.Field)  { l.record("warn", msg, f) }
func (l recordingLogger) Error(msg string, f ...observability.Field) { l.record("error", msg, f) }
func (l recordingLogger) With(f ...observability.Field) observability.Logger {
	return recordingLogger{entries: l.entries, fields: append(append([]observability.Field{}, l.fields...), f...)}
}

func (l recordingLogger) find(msg string) []logEntry {
	var out []logEntry
	for _, e := range *l.entries {
		if e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

func TestScanImages(t *testing.T) {
	noType := imageStream(1, 1, "DeviceGray", []byte{0})
	noType.Dict.Delete("Type")
	form := raw.NewStream(nil, []byte("q Q"))
	form.Dict.Set("Type", raw.NameLiteral("XObject"))
	form.Dict.Set("Subtype", raw.NameLiteral("Form"))

	doc := imageDocument(imageStream(1, 1, "DeviceGray", []byte{0}), form, noType)
	notStream := raw.Dict()
	notStream.Set("Subtype", raw.NameLiteral("Image"))
	doc.Objects[raw.ObjectRef{Num: 40}] = notStream
	doc.Objects[raw.ObjectRef{Num: 41}] = raw.NewStream(nil, []byte("BT ET"))
	doc.Objects[raw.ObjectRef{Num: 2, Gen: 1}] = imageStream(1, 1, "DeviceGray", []byte{0})

	got := ScanImages(doc)
	want := []raw.ObjectRef{{Num: 2, Gen: 1}, {Num: 4}, {Num: 6}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ScanImages = %v, want %v", got, want)
	}
}

func TestOptimizeImagesDownscalesLargeRGB(t *testing.T) {
	img := imageStream(2000, 1500, "DeviceRGB", gradient(2000, 1500, 3))
	doc := imageDocument(img)

	res, err := testOptimizer(t, nil).OptimizeImages(context.Background(), doc)
	if err != nil {
		t.Fatalf("OptimizeImages: %v", err)
	}
	if res.Found != 1 || res.Optimized != 1 || res.Failed() != 0 {
		t.Fatalf("result = %+v", res)
	}
	d := img.Dict
	if w, _ := d.Int("Width"); w != 1200 {
		t.Fatalf("width = %d", w)
	}
	if h, _ := d.Int("Height"); h != 900 {
		t.Fatalf("height = %d", h)
	}
	if f, _ := d.Name("Filter"); f != "DCTDecode" {
		t.Fatalf("filter = %q", f)
	}
	if cs, _ := d.Name("ColorSpace"); cs != "DeviceRGB" {
		t.Fatalf("colorspace = %q", cs)
	}
	if bpc, _ := d.Int("BitsPerComponent"); bpc != 8 {
		t.Fatalf("bpc = %d", bpc)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil || cfg.Width != 1200 || cfg.Height != 900 {
		t.Fatalf("stream content is not a 1200x900 jpeg: %+v %v", cfg, err)
	}
	if res.BytesAfter >= res.BytesBefore {
		t.Fatalf("bytes %d -> %d", res.BytesBefore, res.BytesAfter)
	}
}

func TestOptimizeImagesKeepsSmallerOriginal(t *testing.T) {
	img := imageStream(1, 1, "DeviceRGB", []byte{10, 20, 30})
	doc := imageDocument(img)
	before := append([]byte(nil), img.Data...)
	beforeKeys := img.Dict.Keys()

	log := newRecordingLogger()
	res, err := testOptimizer(t, func(c *Config) { c.Logger = log }).OptimizeImages(context.Background(), doc)
	if err != nil {
		t.Fatalf("OptimizeImages: %v", err)
	}
	if res.Optimized != 0 || res.Failed() != 0 || res.Skipped != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !bytes.Equal(img.Data, before) {
		t.Fatalf("stream content changed")
	}
	if !reflect.DeepEqual(img.Dict.Keys(), beforeKeys) {
		t.Fatalf("dictionary changed: %v", img.Dict.Keys())
	}
	if f, ok := img.Dict.Get("Filter"); ok {
		t.Fatalf("unexpected filter %v", f)
	}
	if len(log.find("skipped, compressed was larger")) != 1 {
		t.Fatalf("skip not logged: %+v", *log.entries)
	}
}

func TestOptimizeImagesAlwaysReplacesFlate(t *testing.T) {
	img := flateImageStream(t, 1, 1, "DeviceRGB", []byte{10, 20, 30})
	img.Dict.Set("DecodeParms", raw.Dict())
	doc := imageDocument(img)
	stored := len(img.Data)

	res, err := testOptimizer(t, nil).OptimizeImages(context.Background(), doc)
	if err != nil {
		t.Fatalf("OptimizeImages: %v", err)
	}
	if res.Optimized != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(img.Data) <= stored {
		t.Fatalf("expected a larger jpeg than the %d byte flate stream, got %d", stored, len(img.Data))
	}
	if f, _ := img.Dict.Name("Filter"); f != "DCTDecode" {
		t.Fatalf("filter = %q", f)
	}
	if _, ok := img.Dict.Get("DecodeParms"); ok {
		t.Fatalf("DecodeParms survived")
	}
}

func TestOptimizeImagesIsolatesFailures(t *testing.T) {
	sep := imageStream(4, 4, "Separation", bytes.Repeat([]byte{7}, 16))
	sep.Dict.Set("ColorSpace", raw.NewArray(raw.NameLiteral("Separation"), raw.NameLiteral("Spot"), raw.NameLiteral("DeviceCMYK"), raw.Ref(1, 0)))
	cmyk := imageStream(100, 100, "DeviceCMYK", make([]byte, 40000))
	doc := imageDocument(sep, cmyk)
	sepData := append([]byte(nil), sep.Data...)

	log := newRecordingLogger()
	res, err := testOptimizer(t, func(c *Config) { c.Logger = log }).OptimizeImages(context.Background(), doc)
	if err != nil {
		t.Fatalf("OptimizeImages: %v", err)
	}
	if res.Found != 2 || res.Optimized != 1 || res.Failed() != 1 {
		t.Fatalf("result = %+v", res)
	}
	f := res.Failures[0]
	if f.Ref != (raw.ObjectRef{Num: 4}) || f.Filter != "none" {
		t.Fatalf("failure = %+v", f)
	}
	var de *DecodeError
	if !errors.As(f.Err, &de) || !errors.Is(f.Err, ErrUnsupportedColorSpace) {
		t.Fatalf("failure error = %v", f.Err)
	}
	if !bytes.Equal(sep.Data, sepData) {
		t.Fatalf("failed stream was modified")
	}
	if cs, _ := cmyk.Dict.Name("ColorSpace"); cs != "DeviceRGB" {
		t.Fatalf("cmyk image not converted: %q", cs)
	}

	warns := log.find("image failed")
	if len(warns) != 1 || warns[0].fields["object"] != "4 0 R" || warns[0].fields["filter"] != "none" {
		t.Fatalf("failure not logged with object and filter: %+v", warns)
	}
}

func TestOptimizeImagesIsolatesOversizedImages(t *testing.T) {
	huge := imageStream(1<<32, 1<<32, "DeviceGray", []byte{1, 2, 3})
	gray := imageStream(10, 10, "DeviceGray", make([]byte, 100))
	doc := imageDocument(huge, gray)

	res, err := testOptimizer(t, nil).OptimizeImages(context.Background(), doc)
	if err != nil {
		t.Fatalf("OptimizeImages: %v", err)
	}
	if res.Found != 2 || res.Optimized+res.Skipped != 1 || res.Failed() != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.Failures[0].Err, ErrImageTooLarge) {
		t.Fatalf("failure error = %v", res.Failures[0].Err)
	}
}

func TestOptimizeImagesHonorsSizeLimit(t *testing.T) {
	img := flateImageStream(t, 100, 100, "DeviceGray", make([]byte, 10000))
	stored := append([]byte(nil), img.Data...)
	doc := imageDocument(img)

	res, err := testOptimizer(t, func(c *Config) { c.Limits.MaxDecompressedSize = 1000 }).OptimizeImages(context.Background(), doc)
	if err != nil {
		t.Fatalf("OptimizeImages: %v", err)
	}
	if res.Optimized != 0 || res.Failed() != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.Failures[0].Err, filters.ErrSizeLimit) {
		t.Fatalf("failure error = %v", res.Failures[0].Err)
	}
	if !bytes.Equal(img.Data, stored) {
		t.Fatalf("stream modified")
	}
}

func TestDescribeUsesOptimizerLimits(t *testing.T) {
	doc := imageDocument(flateImageStream(t, 100, 100, "DeviceGray", make([]byte, 10000)))
	ref := raw.ObjectRef{Num: 4}

	desc, err := testOptimizer(t, nil).Describe(context.Background(), doc, ref)
	if err != nil || desc.Width != 100 || len(desc.Data) != 10000 {
		t.Fatalf("Describe with default limits: %+v, %v", desc, err)
	}
	limited := testOptimizer(t, func(c *Config) { c.Limits.MaxDecompressedSize = 1000 })
	if _, err := limited.Describe(context.Background(), doc, ref); !errors.Is(err, filters.ErrSizeLimit) {
		t.Fatalf("expected ErrSizeLimit, got %v", err)
	}
}

func TestOptimizeImagesWithoutImages(t *testing.T) {
	doc := imageDocument()
	res, err := testOptimizer(t, nil).OptimizeImages(context.Background(), doc)
	if err != nil {
		t.Fatalf("OptimizeImages: %v", err)
	}
	if res.Found != 0 || res.Optimized != 0 || res.Failed() != 0 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func noisyJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(1))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestOptimizeImagesReencodesJPEG(t *testing.T) {
	data := noisyJPEG(t, 64, 64)
	newDCT := func() *raw.StreamObj {
		s := imageStream(64, 64, "DeviceRGB", data)
		s.Dict.Set("Filter", raw.NameLiteral("DCTDecode"))
		return s
	}

	img := newDCT()
	res, err := testOptimizer(t, nil).OptimizeImages(context.Background(), imageDocument(img))
	if err != nil {
		t.Fatalf("OptimizeImages: %v", err)
	}
	if res.Optimized != 1 || len(img.Data) >= len(data) {
		t.Fatalf("jpeg not re-encoded: %+v, %d -> %d bytes", res, len(data), len(img.Data))
	}

	img = newDCT()
	res, err = testOptimizer(t, func(c *Config) { c.SkipJPEG = true }).OptimizeImages(context.Background(), imageDocument(img))
	if err != nil {
		t.Fatalf("OptimizeImages: %v", err)
	}
	if res.Skipped != 1 || res.Optimized != 0 || !bytes.Equal(img.Data, data) {
		t.Fatalf("SkipJPEG did not leave the stream alone: %+v", res)
	}
}

func TestOptimizeImagesStopsWhenCancelled(t *testing.T) {
	img := imageStream(8, 8, "DeviceGray", gradient(8, 8, 1))
	doc := imageDocument(img)
	before := append([]byte(nil), img.Data...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testOptimizer(t, nil).OptimizeImages(ctx, doc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !bytes.Equal(img.Data, before) {
		t.Fatalf("image processed after cancellation")
	}
}
