package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfshrink/filters"
	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/recovery"
	"github.com/wudi/pdfshrink/scanner"
	"github.com/wudi/pdfshrink/xref"
)

// Cache stores loaded objects between Load calls.
type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

// ObjectLoader reads single indirect objects from a file.
type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	reader    io.ReaderAt
	xrefTable xref.Table
	limits    filters.Limits
	scanCfg   scanner.Config
	cache     Cache
	recovery  recovery.Strategy
}

func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithReader(r io.ReaderAt) *ObjectLoaderBuilder {
	b.reader = r
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l filters.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithScanner(cfg scanner.Config) *ObjectLoaderBuilder {
	b.scanCfg = cfg
	return b
}
func (b *ObjectLoaderBuilder) WithRecovery(rec recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = rec
	return b
}
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	return b.build()
}

func (b *ObjectLoaderBuilder) build() (*objectLoader, error) {
	if b.reader == nil || b.xrefTable == nil {
		return nil, errors.New("reader and xrefTable required")
	}
	return &objectLoader{
		reader:    b.reader,
		xrefTable: b.xrefTable,
		scanCfg:   b.scanCfg,
		pipeline:  filters.NewStandardPipeline(b.limits),
		cache:     b.cache,
		recovery:  b.recovery,
		objstm:    make(map[int]map[int]raw.Object),
	}, nil
}

// objectLoader is not safe for concurrent use.
type objectLoader struct {
	reader    io.ReaderAt
	xrefTable xref.Table
	scanCfg   scanner.Config
	scanner   scanner.Scanner
	pipeline  *filters.Pipeline
	cache     Cache
	recovery  recovery.Strategy
	objstm    map[int]map[int]raw.Object
	// lengthDepth guards against /Length references that loop back.
	lengthDepth int
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if o.cache != nil {
		if obj, ok := o.cache.Get(ref); ok {
			return obj, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	obj, err := o.loadOnce(ctx, ref)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		o.cache.Put(ref, obj)
	}
	return obj, nil
}

func (o *objectLoader) loadOnce(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	offset, gen, found := o.xrefTable.Lookup(ref.Num)
	if !found {
		if osNum, _, ok := o.xrefTable.ObjStream(ref.Num); ok {
			return o.loadFromObjectStream(ctx, ref, osNum)
		}
		return nil, fmt.Errorf("object %d not found in xref", ref.Num)
	}
	if o.scanner == nil {
		o.scanner = scanner.New(o.reader, o.scanCfg)
	}
	return o.scanObject(ctx, o.scanner, ref.Num, offset, gen)
}

func (o *objectLoader) scanObject(ctx context.Context, s scanner.Scanner, objNum int, offset int64, gen int) (raw.Object, error) {
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	or := scanner.NewObjectReader(s, o.recovery)

	ref, _, err := or.ExpectObjectHeader()
	if err != nil {
		return nil, err
	}
	if ref.Num != objNum {
		return nil, fmt.Errorf("object header number mismatch: xref says %d, file has %d", objNum, ref.Num)
	}
	if ref.Gen != gen {
		return nil, fmt.Errorf("object %d header generation mismatch", objNum)
	}

	obj, err := or.ReadObject(ref)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return obj, nil
	}

	hint, err := o.resolveStreamLength(ctx, dict)
	if err != nil {
		return nil, err
	}
	or.SetStreamLengthHint(hint)
	tok, err := or.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return dict, nil
		}
		return nil, err
	}
	if tok.Type == scanner.TokenStream {
		return raw.NewStream(dict, tok.Bytes), nil
	}
	or.SetStreamLengthHint(-1)
	return dict, nil
}

// resolveStreamLength returns the /Length value or -1 when it is absent or
// unusable; the scanner then searches for endstream.
func (o *objectLoader) resolveStreamLength(ctx context.Context, dict *raw.DictObj) (int64, error) {
	val, ok := dict.Get("Length")
	if !ok {
		return -1, nil
	}
	switch v := val.(type) {
	case raw.NumberObj:
		return v.Int(), nil
	case raw.RefObj:
		if o.lengthDepth > 0 {
			return -1, nil
		}
		o.lengthDepth++
		defer func() { o.lengthDepth-- }()
		obj, err := o.loadReferenced(ctx, v.R)
		if err != nil {
			return -1, nil
		}
		if num, ok := obj.(raw.NumberObj); ok {
			dict.Set("Length", num)
			return num.Int(), nil
		}
		return -1, nil
	default:
		return -1, nil
	}
}

// loadReferenced reads an object with its own scanner so the shared cursor
// stays where the caller left it.
func (o *objectLoader) loadReferenced(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	offset, gen, ok := o.xrefTable.Lookup(ref.Num)
	if !ok {
		if osNum, _, ok := o.xrefTable.ObjStream(ref.Num); ok {
			return o.loadFromObjectStream(ctx, ref, osNum)
		}
		return nil, fmt.Errorf("object %d missing for length reference", ref.Num)
	}
	return o.scanObject(ctx, scanner.New(o.reader, o.scanCfg), ref.Num, offset, gen)
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, objStreamNum int) (raw.Object, error) {
	objs, ok := o.objstm[objStreamNum]
	if !ok {
		offset, gen, found := o.xrefTable.Lookup(objStreamNum)
		if !found {
			return nil, fmt.Errorf("object stream %d missing from xref", objStreamNum)
		}
		streamObj, err := o.scanObject(ctx, scanner.New(o.reader, o.scanCfg), objStreamNum, offset, gen)
		if err != nil {
			return nil, fmt.Errorf("object stream %d: %w", objStreamNum, err)
		}
		st, ok := streamObj.(*raw.StreamObj)
		if !ok {
			return nil, fmt.Errorf("object %d is not an object stream", objStreamNum)
		}
		objs, err = o.expandObjectStream(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("object stream %d: %w", objStreamNum, err)
		}
		o.objstm[objStreamNum] = objs
	}
	if obj, ok := objs[ref.Num]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("object %d not found in object stream %d", ref.Num, objStreamNum)
}

// expandObjectStream decodes a /Type /ObjStm stream into its member objects.
func (o *objectLoader) expandObjectStream(ctx context.Context, st *raw.StreamObj) (map[int]raw.Object, error) {
	n, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")

	names, params := filters.ExtractFilters(st.Dict)
	data, err := o.pipeline.Decode(ctx, st.Data, names, params)
	if err != nil {
		return nil, err
	}
	if first < 0 || first > int64(len(data)) {
		return nil, errors.New("object stream First exceeds length")
	}
	header, body := data[:first], data[first:]

	hs := scanner.New(bytes.NewReader(header), o.scanCfg)
	pairs := make([]int64, 0, 2*n)
	for int64(len(pairs)) < 2*n {
		tok, err := hs.Next()
		if err != nil {
			return nil, fmt.Errorf("object stream header: %w", err)
		}
		if tok.Type == scanner.TokenNumber && tok.IsInt {
			pairs = append(pairs, tok.Int)
		}
	}

	objs := make(map[int]raw.Object, n)
	for i := 0; i+1 < len(pairs); i += 2 {
		num, off := int(pairs[i]), pairs[i+1]
		if off < 0 || off > int64(len(body)) {
			return nil, fmt.Errorf("object %d offset %d outside object stream", num, off)
		}
		bs := scanner.New(bytes.NewReader(body[off:]), o.scanCfg)
		obj, err := scanner.NewObjectReader(bs, o.recovery).ReadObject(raw.ObjectRef{Num: num})
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", num, err)
		}
		objs[num] = obj
	}
	return objs, nil
}
