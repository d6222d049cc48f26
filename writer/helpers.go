package writer

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/wudi/pdfshrink/ir/raw"
)

func pdfVersion(doc *raw.Document, cfg Config) string {
	if cfg.Version != "" {
		return string(cfg.Version)
	}
	if doc.Version != "" {
		return doc.Version
	}
	return string(PDF17)
}

// droppedOnRewrite reports whether a stream only carried cross-reference
// data or compressed objects that the parser already expanded.
func droppedOnRewrite(obj raw.Object) bool {
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return false
	}
	typ, _ := st.Dict.Name("Type")
	return typ == "XRef" || typ == "ObjStm"
}

func serializePrimitive(b *bytes.Buffer, o raw.Object) {
	switch v := o.(type) {
	case raw.NameObj:
		b.WriteByte('/')
		b.WriteString(pdfNameLiteral(v.Val))
	case raw.NumberObj:
		b.WriteString(formatNumber(v))
	case raw.BoolObj:
		b.WriteString(strconv.FormatBool(v.V))
	case raw.NullObj:
		b.WriteString("null")
	case raw.StringObj:
		if v.Hex {
			fmt.Fprintf(b, "<%X>", v.Bytes)
		} else {
			b.Write(escapeLiteralString(v.Bytes))
		}
	case *raw.ArrayObj:
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			serializePrimitive(b, it)
		}
		b.WriteByte(']')
	case *raw.DictObj:
		serializeDict(b, v, nil)
	case raw.RefObj:
		fmt.Fprintf(b, "%d %d R", v.R.Num, v.R.Gen)
	default:
		// streams are only legal as indirect objects
		b.WriteString("null")
	}
}

// serializeDict writes d with keys sorted; override replaces values without
// touching the dictionary itself.
func serializeDict(b *bytes.Buffer, d *raw.DictObj, override map[string]raw.Object) {
	b.WriteString("<<")
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		if o, ok := override[k]; ok {
			v = o
		}
		writeEntry(b, k, v)
	}
	for k, v := range override {
		if _, ok := d.Get(k); !ok {
			writeEntry(b, k, v)
		}
	}
	b.WriteString(">>")
}

func writeEntry(b *bytes.Buffer, key string, v raw.Object) {
	b.WriteByte('/')
	b.WriteString(pdfNameLiteral(key))
	b.WriteByte(' ')
	serializePrimitive(b, v)
	b.WriteByte(' ')
}

func formatNumber(n raw.NumberObj) string {
	if n.IsInt {
		return strconv.FormatInt(n.I, 10)
	}
	if math.IsNaN(n.F) || math.IsInf(n.F, 0) {
		return "0"
	}
	return strconv.FormatFloat(n.F, 'f', -1, 64)
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

// pdfNameLiteral escapes every byte outside [A-Za-z0-9._-] as #XX.
func pdfNameLiteral(value string) string {
	var b bytes.Buffer
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_' || ch == '.' {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}
