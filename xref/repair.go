package xref

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/scanner"
)

// repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" headers and "trailer" dictionaries; later
// definitions of an object number win, as they would in an incremental update.
func repair(ctx context.Context, data []byte) (Table, *raw.DictObj, error) {
	s := scanner.New(bytes.NewReader(data), scanner.Config{})
	or := scanner.NewObjectReader(s, nil)
	t := &table{entries: make(map[int]entry), kind: "repaired"}
	var lastTrailer *raw.DictObj
	var catalog *raw.ObjectRef
	maxNum := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		before := s.Position()
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Unreadable token; step over one byte and keep scanning.
			if s.Position() <= before {
				if s.SeekTo(before+1) != nil {
					break
				}
			}
			continue
		}

		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			if obj, err := or.ReadObject(raw.ObjectRef{}); err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
			continue
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			continue
		}

		genTok, err := s.Next()
		if err != nil {
			continue
		}
		if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
			continue
		}
		objTok, err := s.Next()
		if err != nil {
			continue
		}
		if objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
			// genTok may itself start a header, as in "999 1 0 obj".
			if err := s.SeekTo(genTok.Pos); err != nil {
				return nil, nil, err
			}
			continue
		}

		ref := raw.ObjectRef{Num: int(tok.Int), Gen: int(genTok.Int)}
		t.entries[ref.Num] = entry{offset: tok.Pos, gen: ref.Gen}
		if ref.Num > maxNum {
			maxNum = ref.Num
		}

		// Peek at the body to find the catalog in files that lost their trailer.
		obj, err := or.ReadObject(ref)
		if err != nil {
			continue
		}
		if dict, ok := obj.(*raw.DictObj); ok {
			switch typ, _ := dict.Name("Type"); typ {
			case "Catalog":
				r := ref
				catalog = &r
			case "XRef":
				if _, ok := dict.Get("Root"); ok {
					lastTrailer = dict
				}
			}
		}
	}

	if len(t.entries) == 0 {
		return nil, nil, errors.New("repair failed: no objects found")
	}

	trailer := raw.Dict()
	if lastTrailer != nil {
		for _, k := range lastTrailer.Keys() {
			switch k {
			case "Prev", "XRefStm", "Type", "W", "Index", "Length", "Filter", "DecodeParms":
				continue
			}
			v, _ := lastTrailer.Get(k)
			trailer.Set(k, v)
		}
	}
	if _, ok := trailer.Get("Root"); !ok && catalog != nil {
		trailer.Set("Root", raw.Ref(catalog.Num, catalog.Gen))
	}
	trailer.Set("Size", raw.NumberInt(int64(maxNum+1)))
	return t, trailer, nil
}
