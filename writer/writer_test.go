package writer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/parser"
)

func sampleDocument() *raw.Document {
	doc := raw.NewDocument()
	doc.Version = "1.5"
	catalog := raw.Dict()
	catalog.Set("Type", raw.NameLiteral("Catalog"))
	catalog.Set("Pages", raw.Ref(2, 0))
	doc.Objects[raw.ObjectRef{Num: 1}] = catalog

	pages := raw.Dict()
	pages.Set("Type", raw.NameLiteral("Pages"))
	pages.Set("Kids", raw.NewArray())
	pages.Set("Count", raw.NumberInt(0))
	pages.Set("UserUnit", raw.NumberFloat(0.5))
	doc.Objects[raw.ObjectRef{Num: 2}] = pages

	sd := raw.Dict()
	sd.Set("Length", raw.NumberInt(999))
	doc.Objects[raw.ObjectRef{Num: 4}] = raw.NewStream(sd, []byte("q 1 0 0 1 0 0 cm Q"))

	info := raw.Dict()
	info.Set("Title", raw.Str([]byte("a (b) \\ c")))
	info.Set("Producer", raw.HexStr([]byte{0xFE, 0xFF, 0x00, 0x41}))
	doc.Objects[raw.ObjectRef{Num: 5}] = info

	xs := raw.Dict()
	xs.Set("Type", raw.NameLiteral("XRef"))
	doc.Objects[raw.ObjectRef{Num: 6}] = raw.NewStream(xs, []byte{1, 2, 3})

	doc.Trailer.Set("Root", raw.Ref(1, 0))
	doc.Trailer.Set("Info", raw.Ref(5, 0))
	doc.Trailer.Set("Prev", raw.NumberInt(1234))
	doc.Trailer.Set("ID", raw.NewArray(raw.HexStr([]byte("permanent-id")), raw.HexStr([]byte("old"))))
	return doc
}

func TestSerializeObject(t *testing.T) {
	w := New()
	tests := []struct {
		name string
		obj  raw.Object
		want string
	}{
		{"name escape", raw.NameLiteral("A B#"), "/A#20B#23"},
		{"real", raw.NumberFloat(0.25), "0.25"},
		{"literal", raw.Str([]byte("x(y)\n")), "(x\\(y\\)\\n)"},
		{"hex", raw.HexStr([]byte{0xAB, 0x01}), "<AB01>"},
		{"array", raw.NewArray(raw.Ref(3, 1), raw.Bool(true), raw.NullObj{}), "[3 1 R true null]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := w.SerializeObject(raw.ObjectRef{Num: 7}, tt.obj)
			if err != nil {
				t.Fatalf("serialize: %v", err)
			}
			want := "7 0 obj\n" + tt.want + "\nendobj\n"
			if string(got) != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		})
	}
}

func TestSerializeStreamRecomputesLength(t *testing.T) {
	d := raw.Dict()
	d.Set("Length", raw.NumberInt(1))
	got, err := New().SerializeObject(raw.ObjectRef{Num: 3}, raw.NewStream(d, []byte("abcdef")))
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !bytes.Contains(got, []byte("/Length 6")) {
		t.Fatalf("length not recomputed: %q", got)
	}
	if n, _ := d.Int("Length"); n != 1 {
		t.Fatalf("serializing must not modify the dictionary")
	}
}

func TestWriteRoundTrip(t *testing.T) {
	doc := sampleDocument()
	var buf bytes.Buffer
	n, err := New().Write(context.Background(), doc, &buf, Config{})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("reported %d bytes, wrote %d", n, buf.Len())
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-1.5\n")) {
		t.Fatalf("unexpected header %q", buf.Bytes()[:10])
	}
	// object 3 is unused, so it heads the free list
	if !strings.Contains(buf.String(), "0000000003 65535 f \n") {
		t.Fatalf("free list head should point at object 3:\n%s", buf.String())
	}

	got, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(got.Objects) != 4 {
		t.Fatalf("expected 4 objects after dropping the xref stream, got %d", len(got.Objects))
	}
	st, ok := got.Stream(raw.ObjectRef{Num: 4})
	if !ok || string(st.Data) != "q 1 0 0 1 0 0 cm Q" {
		t.Fatalf("stream content changed: %#v", got.Objects[raw.ObjectRef{Num: 4}])
	}
	if l, _ := st.Dict.Int("Length"); l != int64(len(st.Data)) {
		t.Fatalf("Length %d does not match data", l)
	}
	pages := got.Objects[raw.ObjectRef{Num: 2}].(*raw.DictObj)
	if u, _ := pages.Get("UserUnit"); u.(raw.NumberObj).Float() != 0.5 {
		t.Fatalf("real number lost: %v", u)
	}
	if got.Metadata.Title != "a (b) \\ c" || got.Metadata.Producer != "A" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}
	if size, _ := got.Trailer.Int("Size"); size != 6 {
		t.Fatalf("expected Size 6, got %d", size)
	}
	if _, ok := got.Trailer.Get("Prev"); ok {
		t.Fatalf("Prev must not survive a full rewrite")
	}
	id, _ := got.Trailer.Get("ID")
	ids := id.(*raw.ArrayObj)
	if first := ids.Items[0].(raw.StringObj); string(first.Bytes) != "permanent-id" {
		t.Fatalf("permanent ID not kept: %q", first.Bytes)
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	if _, err := New().Write(context.Background(), sampleDocument(), &a, Config{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New().Write(context.Background(), sampleDocument(), &b, Config{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("identical documents should serialize identically")
	}
}

func TestWriteRequiresRoot(t *testing.T) {
	doc := raw.NewDocument()
	doc.Objects[raw.ObjectRef{Num: 1}] = raw.Dict()
	if _, err := New().Write(context.Background(), doc, &bytes.Buffer{}, Config{}); err == nil {
		t.Fatalf("expected error for trailer without Root")
	}
}

func TestSaveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pdf")

	n, err := SaveFile(context.Background(), New(), sampleDocument(), path, Config{Version: PDF17})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if int64(len(data)) != n || !bytes.HasPrefix(data, []byte("%PDF-1.7")) {
		t.Fatalf("unexpected output: %d bytes reported, %d on disk", n, len(data))
	}
	assertOnlyFile(t, dir, "out.pdf")
}

func TestSaveFileFailureLeavesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pdf")
	if err := os.WriteFile(path, []byte("previous"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SaveFile(ctx, New(), sampleDocument(), path, Config{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "previous" {
		t.Fatalf("existing file was modified: %q", data)
	}
	assertOnlyFile(t, dir, "out.pdf")
}

func TestSaveFileMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.pdf")
	if _, err := SaveFile(context.Background(), New(), sampleDocument(), path, Config{}); err == nil {
		t.Fatalf("expected error for a missing directory")
	}
}

func assertOnlyFile(t *testing.T, dir, name string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != name {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only %s in %s, found %v", name, dir, names)
	}
}
