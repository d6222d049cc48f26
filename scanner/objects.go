package scanner

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/recovery"
)

// ErrMissingDictEnd is reported when a dictionary runs into endobj.
var ErrMissingDictEnd = errors.New("unexpected endobj in dict (missing >>?)")

// ObjectReader assembles raw objects from a token stream. Tokens can be
// pushed back, which the loader needs to probe for a stream after a dict.
type ObjectReader struct {
	s   Scanner
	buf []Token
	rec recovery.Strategy
}

// NewObjectReader wraps s. rec may be nil, in which case every malformed
// construct is an error.
func NewObjectReader(s Scanner, rec recovery.Strategy) *ObjectReader {
	return &ObjectReader{s: s, rec: rec}
}

func (r *ObjectReader) Next() (Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *ObjectReader) Unread(tok Token) { r.buf = append(r.buf, tok) }

// SetStreamLengthHint forwards n to the scanner; n < 0 clears the hint.
func (r *ObjectReader) SetStreamLengthHint(n int64) { r.s.SetNextStreamLength(n) }

// ExpectObjectHeader consumes "<num> <gen> obj" and returns the pair.
func (r *ObjectReader) ExpectObjectHeader() (raw.ObjectRef, int64, error) {
	num, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, 0, err
	}
	if num.Type != TokenNumber || !num.IsInt {
		return raw.ObjectRef{}, num.Pos, fmt.Errorf("expected object number at offset %d", num.Pos)
	}
	gen, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, num.Pos, err
	}
	if gen.Type != TokenNumber || !gen.IsInt {
		return raw.ObjectRef{}, num.Pos, fmt.Errorf("expected generation at offset %d", gen.Pos)
	}
	kw, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, num.Pos, err
	}
	if kw.Type != TokenKeyword || kw.Str != "obj" {
		return raw.ObjectRef{}, num.Pos, fmt.Errorf("expected obj keyword at offset %d", kw.Pos)
	}
	return raw.ObjectRef{Num: int(num.Int), Gen: int(gen.Int)}, num.Pos, nil
}

// ReadObject parses one direct object. ref is used only for recovery reports.
func (r *ObjectReader) ReadObject(ref raw.ObjectRef) (raw.Object, error) {
	tok, err := r.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	case TokenArray:
		return r.readArray(ref)
	case TokenDict:
		return r.readDict(ref)
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tok.Str, tok.Pos)
}

func (r *ObjectReader) readArray(ref raw.ObjectRef) (raw.Object, error) {
	arr := raw.NewArray()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		r.Unread(tok)
		item, err := r.ReadObject(ref)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (r *ObjectReader) readDict(ref raw.ObjectRef) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != TokenName {
			if tok.Type == TokenKeyword && tok.Str == "endobj" && r.recoverable(ErrMissingDictEnd, tok.Pos, ref) {
				r.Unread(tok)
				return d, nil
			}
			if tok.Type == TokenKeyword && tok.Str == "endobj" {
				return nil, ErrMissingDictEnd
			}
			return nil, fmt.Errorf("expected name in dict at offset %d", tok.Pos)
		}
		val, err := r.ReadObject(ref)
		if err != nil {
			return nil, err
		}
		d.Set(tok.Str, val)
	}
}

func (r *ObjectReader) recoverable(err error, pos int64, ref raw.ObjectRef) bool {
	if r.rec == nil {
		return false
	}
	action := r.rec.OnError(err, recovery.Location{
		ByteOffset: pos,
		ObjectNum:  ref.Num,
		ObjectGen:  ref.Gen,
		Component:  "scanner",
	})
	return action == recovery.ActionFix || action == recovery.ActionWarn
}
