package writer

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/wudi/pdfshrink/ir/raw"
)

type impl struct{}

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	switch o := obj.(type) {
	case *raw.StreamObj:
		if o.Dict == nil {
			return nil, fmt.Errorf("object %s: stream without dictionary", ref)
		}
		serializeDict(&buf, o.Dict, map[string]raw.Object{
			"Length": raw.NumberInt(int64(len(o.Data))),
		})
		buf.WriteString("\nstream\n")
		buf.Write(o.Data)
		buf.WriteString("\nendstream")
	case nil:
		buf.WriteString("null")
	default:
		serializePrimitive(&buf, o)
	}
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

// countingWriter tracks the output offset for the xref table.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write emits every object of doc in ascending object-number order followed
// by a classic xref table and trailer. It returns the number of bytes written.
func (w *impl) Write(ctx context.Context, doc *raw.Document, out io.Writer, cfg Config) (int64, error) {
	root, ok := doc.Trailer.Get("Root")
	if !ok {
		return 0, fmt.Errorf("trailer has no /Root")
	}

	bw := bufio.NewWriter(out)
	cw := &countingWriter{w: bw}
	hash := sha256.New()
	dst := io.MultiWriter(cw, hash)

	if _, err := fmt.Fprintf(dst, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", pdfVersion(doc, cfg)); err != nil {
		return cw.n, err
	}

	offsets := make(map[int]int64)
	gens := make(map[int]int)
	maxNum := 0
	for i, ref := range doc.Refs() {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return cw.n, err
			}
		}
		obj := doc.Objects[ref]
		if droppedOnRewrite(obj) {
			continue
		}
		if _, dup := offsets[ref.Num]; dup {
			return cw.n, fmt.Errorf("object number %d used twice", ref.Num)
		}
		data, err := w.SerializeObject(ref, obj)
		if err != nil {
			return cw.n, err
		}
		offsets[ref.Num] = cw.n
		gens[ref.Num] = ref.Gen
		if _, err := dst.Write(data); err != nil {
			return cw.n, err
		}
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
	}

	xrefOffset := cw.n
	var tail bytes.Buffer
	writeXRefTable(&tail, offsets, gens, maxNum)

	trailer := raw.Dict()
	trailer.Set("Size", raw.NumberInt(int64(maxNum+1)))
	trailer.Set("Root", root)
	if info, ok := doc.Trailer.Get("Info"); ok {
		if ref, isRef := info.(raw.RefObj); !isRef || offsets[ref.R.Num] > 0 {
			trailer.Set("Info", info)
		}
	}
	trailer.Set("ID", fileID(doc.Trailer, hash.Sum(nil)))

	tail.WriteString("trailer\n")
	serializeDict(&tail, trailer, nil)
	fmt.Fprintf(&tail, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	if _, err := cw.Write(tail.Bytes()); err != nil {
		return cw.n, err
	}
	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// writeXRefTable writes one subsection covering 0..maxNum. Unused numbers
// form the free list rooted at entry 0.
func writeXRefTable(b *bytes.Buffer, offsets map[int]int64, gens map[int]int, maxNum int) {
	var free []int
	for i := 1; i <= maxNum; i++ {
		if _, ok := offsets[i]; !ok {
			free = append(free, i)
		}
	}
	nextFree := func(k int) int {
		if k < len(free) {
			return free[k]
		}
		return 0
	}

	fmt.Fprintf(b, "xref\n0 %d\n", maxNum+1)
	fmt.Fprintf(b, "%010d 65535 f \n", nextFree(0))
	k := 0
	for i := 1; i <= maxNum; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(b, "%010d %05d n \n", off, gens[i])
			continue
		}
		k++
		fmt.Fprintf(b, "%010d 00001 f \n", nextFree(k))
	}
}

// fileID keeps the permanent identifier of the source file and derives the
// changing one from the content written.
func fileID(oldTrailer *raw.DictObj, digest []byte) *raw.ArrayObj {
	changing := append([]byte(nil), digest[:16]...)
	permanent := changing
	if idObj, ok := oldTrailer.Get("ID"); ok {
		if arr, ok := idObj.(*raw.ArrayObj); ok && arr.Len() > 0 {
			if s, ok := arr.Items[0].(raw.StringObj); ok && len(s.Bytes) > 0 {
				permanent = s.Bytes
			}
		}
	}
	return raw.NewArray(raw.HexStr(permanent), raw.HexStr(changing))
}
