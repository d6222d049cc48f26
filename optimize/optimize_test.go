package optimize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/parser"
	"github.com/wudi/pdfshrink/writer"
)

func writeInput(t *testing.T, doc *raw.Document) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.pdf")
	if _, err := writer.SaveFile(context.Background(), writer.New(), doc, path, writer.Config{}); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func readOutput(t *testing.T, path string) *raw.Document {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	return doc
}

// classicPDF lays out numbered objects with a matching xref table.
func classicPDF(objects []string, trailer string) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.7\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, trailer, xref)
	return b.Bytes()
}

func TestRunEndToEnd(t *testing.T) {
	img := flateImageStream(t, 200, 100, "DeviceRGB", gradient(200, 100, 3))
	img.Dict.Set("SMask", raw.Ref(10, 0))
	doc := imageDocument(img)
	doc.Objects[raw.ObjectRef{Num: 10}] = flateImageStream(t, 200, 100, "DeviceGray", gradient(200, 100, 1))
	doc.Objects[raw.ObjectRef{Num: 11}] = raw.Str([]byte("orphan"))
	in := writeInput(t, doc)
	out := filepath.Join(t.TempDir(), "out.pdf")

	sum, err := testOptimizer(t, nil).Run(context.Background(), in, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.ImagesFound != 2 || sum.ImagesOptimized != 2 || sum.ImagesFailed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.ObjectsPruned != 2 {
		t.Fatalf("pruned = %d, want 2", sum.ObjectsPruned)
	}
	inInfo, _ := os.Stat(in)
	outInfo, _ := os.Stat(out)
	if sum.InputBytes != inInfo.Size() || sum.OutputBytes != outInfo.Size() {
		t.Fatalf("byte counts %d/%d, files %d/%d", sum.InputBytes, sum.OutputBytes, inInfo.Size(), outInfo.Size())
	}

	got := readOutput(t, out)
	if len(got.Objects) != 4 {
		t.Fatalf("objects = %d, want 4", len(got.Objects))
	}
	s, ok := got.Stream(raw.ObjectRef{Num: 4})
	if !ok {
		t.Fatalf("image missing from output")
	}
	if f, _ := s.Dict.Name("Filter"); f != "DCTDecode" {
		t.Fatalf("filter = %q", f)
	}
	if _, ok := s.Dict.Get("SMask"); ok {
		t.Fatalf("SMask reference survived")
	}
	if n, _ := s.Dict.Int("Length"); n != int64(len(s.Data)) {
		t.Fatalf("Length %d for %d bytes", n, len(s.Data))
	}
	page := got.Objects[raw.ObjectRef{Num: 3}].(*raw.DictObj)
	res, _ := page.Get("Resources")
	xobj, _ := res.(*raw.DictObj).Get("XObject")
	if ref, _ := xobj.(*raw.DictObj).Get("Im1"); ref != raw.Ref(4, 0) {
		t.Fatalf("page no longer references the image: %v", ref)
	}
}

func TestRunWithoutImages(t *testing.T) {
	in := writeInput(t, imageDocument())
	out := filepath.Join(t.TempDir(), "out.pdf")

	sum, err := testOptimizer(t, nil).Run(context.Background(), in, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.ImagesFound != 0 || sum.ObjectsPruned != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	got := readOutput(t, out)
	if len(got.Objects) != 3 {
		t.Fatalf("objects = %d, want 3", len(got.Objects))
	}
	if _, ok := got.Trailer.Get("Root"); !ok {
		t.Fatalf("Root lost")
	}
}

func TestRunFatalErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pdf")
	if err := os.WriteFile(garbage, []byte("this is not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	encrypted := filepath.Join(dir, "encrypted.pdf")
	enc := classicPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
		"<< /Filter /Standard /V 1 /R 2 >>",
	}, "/Root 1 0 R /Encrypt 3 0 R")
	if err := os.WriteFile(encrypted, enc, 0o644); err != nil {
		t.Fatal(err)
	}
	valid := writeInput(t, imageDocument())

	tests := []struct {
		name   string
		input  string
		output string
		kind   error
		cause  error
	}{
		{"missing input", filepath.Join(dir, "missing.pdf"), filepath.Join(dir, "out1.pdf"), ErrDocumentIO, os.ErrNotExist},
		{"not a pdf", garbage, filepath.Join(dir, "out2.pdf"), ErrDocumentParse, nil},
		{"encrypted", encrypted, filepath.Join(dir, "out3.pdf"), ErrDocumentParse, parser.ErrEncrypted},
		{"unwritable output", valid, filepath.Join(dir, "no-such-dir", "out.pdf"), ErrDocumentSave, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testOptimizer(t, nil).Run(context.Background(), tt.input, tt.output)
			var de *DocumentError
			if !errors.As(err, &de) {
				t.Fatalf("expected DocumentError, got %v", err)
			}
			if !errors.Is(err, tt.kind) {
				t.Fatalf("error %v is not %v", err, tt.kind)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Fatalf("error %v does not wrap %v", err, tt.cause)
			}
			if _, statErr := os.Stat(tt.output); !os.IsNotExist(statErr) {
				t.Fatalf("output must not exist after a fatal error")
			}
		})
	}
}

func TestRunParseFailureKeepsPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	out := filepath.Join(dir, "out.pdf")
	if err := os.WriteFile(in, []byte("%PDF-1.7\nbroken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(out, []byte("previous"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := testOptimizer(t, nil).Run(context.Background(), in, out); err == nil {
		t.Fatalf("expected error")
	}
	if data, _ := os.ReadFile(out); string(data) != "previous" {
		t.Fatalf("previous output modified: %q", data)
	}
}

func TestProcessRequiresRoot(t *testing.T) {
	doc := imageDocument()
	doc.Trailer.Delete("Root")
	_, err := testOptimizer(t, nil).Process(context.Background(), doc)
	if !errors.Is(err, ErrMissingRoot) || !errors.Is(err, ErrDocumentSave) {
		t.Fatalf("expected prune failure, got %v", err)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	in := writeInput(t, imageDocument(imageStream(2, 2, "DeviceGray", []byte{1, 2, 3, 4})))
	out := filepath.Join(t.TempDir(), "out.pdf")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testOptimizer(t, nil).Run(ctx, in, out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("output written after cancellation")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"quality 100", func(c *Config) { c.Quality = 100 }, false},
		{"fractional quality", func(c *Config) { c.Quality = 0.5 }, false},
		{"zero width", func(c *Config) { c.MaxWidth = 0 }, true},
		{"negative width", func(c *Config) { c.MaxWidth = -5 }, true},
		{"zero quality", func(c *Config) { c.Quality = 0 }, true},
		{"quality above 100", func(c *Config) { c.Quality = 100.5 }, true},
		{"negative limit", func(c *Config) { c.Limits.MaxDecompressedSize = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("error does not wrap ErrInvalidConfig: %v", err)
			}
			if _, newErr := New(cfg); (newErr != nil) != tt.wantErr {
				t.Fatalf("New() = %v", newErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxWidth != 1200 || cfg.Quality != 60 || cfg.SkipJPEG {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestDocumentErrorUnwrapsKindAndCause(t *testing.T) {
	err := &DocumentError{Op: "load", Path: "a.pdf", Kind: ErrDocumentIO, Err: os.ErrPermission}
	if !errors.Is(err, ErrDocumentIO) || !errors.Is(err, os.ErrPermission) {
		t.Fatalf("unwrap failed")
	}
	if errors.Is(err, ErrDocumentSave) {
		t.Fatalf("unexpected kind")
	}
	if got := err.Error(); got != "load a.pdf: permission denied" {
		t.Fatalf("Error() = %q", got)
	}
}
