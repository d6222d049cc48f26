// Package xref locates the cross-reference data of a PDF file: classic
// tables, cross-reference streams, hybrid files and /Prev chains.
package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/wudi/pdfshrink/filters"
	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/recovery"
	"github.com/wudi/pdfshrink/scanner"
)

var (
	ErrNoStartXRef = errors.New("startxref not found")
	ErrBadSection  = errors.New("malformed xref section")
)

// Table maps object numbers to their location in the file.
type Table interface {
	// Lookup returns the byte offset of an uncompressed in-use object.
	Lookup(objNum int) (offset int64, gen int, found bool)
	// ObjStream returns the object stream holding a compressed object.
	ObjStream(objNum int) (streamNum int, index int, found bool)
	// Objects lists every in-use object number in ascending order.
	Objects() []int
	Type() string
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (Table, error)
	// Trailer returns the merged trailer of the last Resolve call.
	Trailer() *raw.DictObj
	// Repaired reports whether the last Resolve fell back to a full scan.
	Repaired() bool
}

type ResolverConfig struct {
	MaxXRefDepth int
	// Recovery decides whether an unusable xref chain is rebuilt by scanning
	// the file. A nil strategy fails instead.
	Recovery recovery.Strategy
	Limits   filters.Limits
}

const defaultMaxXRefDepth = 64

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = defaultMaxXRefDepth
	}
	return &resolver{cfg: cfg}
}

type resolver struct {
	cfg      ResolverConfig
	trailer  *raw.DictObj
	repaired bool
}

func (r *resolver) Trailer() *raw.DictObj { return r.trailer }
func (r *resolver) Repaired() bool        { return r.repaired }

func (r *resolver) Resolve(ctx context.Context, ra io.ReaderAt) (Table, error) {
	r.trailer, r.repaired = nil, false
	data, err := readAll(ra)
	if err != nil {
		return nil, err
	}

	t, err := r.resolveChain(ctx, data)
	if err == nil {
		return t, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if !r.mayRepair(err) {
		return nil, err
	}
	t, trailer, rerr := repair(ctx, data)
	if rerr != nil {
		return nil, fmt.Errorf("%w (repair: %v)", err, rerr)
	}
	r.trailer = trailer
	r.repaired = true
	return t, nil
}

func (r *resolver) mayRepair(err error) bool {
	if r.cfg.Recovery == nil {
		return false
	}
	action := r.cfg.Recovery.OnError(err, recovery.Location{Component: "xref"})
	return action == recovery.ActionFix || action == recovery.ActionWarn
}

func (r *resolver) resolveChain(ctx context.Context, data []byte) (Table, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}

	merged := &table{entries: make(map[int]entry)}
	visited := make(map[int64]bool)
	offset := start
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("%w: more than %d chained sections", ErrBadSection, r.cfg.MaxXRefDepth)
		}
		if visited[offset] {
			break
		}
		visited[offset] = true

		sec, trailer, err := r.readSection(ctx, data, offset)
		if err != nil {
			return nil, err
		}
		if merged.kind == "" {
			merged.kind = sec.kind
		}
		merged.mergeOlder(sec)

		if stmOff, ok := trailer.Int("XRefStm"); ok && !visited[stmOff] {
			visited[stmOff] = true
			hidden, _, err := r.readSection(ctx, data, stmOff)
			if err != nil {
				return nil, fmt.Errorf("XRefStm at %d: %w", stmOff, err)
			}
			merged.mergeOlder(hidden)
		}
		r.mergeTrailer(trailer)

		prev, ok := trailer.Int("Prev")
		if !ok {
			break
		}
		offset = prev
	}

	if r.trailer == nil {
		return nil, fmt.Errorf("%w: no trailer", ErrBadSection)
	}
	if err := validateSize(merged, r.trailer); err != nil {
		return nil, err
	}
	return merged, nil
}

// mergeTrailer keeps keys from newer trailers and fills gaps from older ones.
func (r *resolver) mergeTrailer(older *raw.DictObj) {
	if r.trailer == nil {
		r.trailer = raw.Dict()
		for _, k := range older.Keys() {
			v, _ := older.Get(k)
			r.trailer.Set(k, v)
		}
		return
	}
	for _, k := range older.Keys() {
		if _, ok := r.trailer.Get(k); ok {
			continue
		}
		v, _ := older.Get(k)
		r.trailer.Set(k, v)
	}
}

func validateSize(t *table, trailer *raw.DictObj) error {
	size, ok := trailer.Int("Size")
	if !ok {
		return fmt.Errorf("%w: trailer missing /Size", ErrBadSection)
	}
	for num, e := range t.entries {
		if !e.free && int64(num) >= size {
			return fmt.Errorf("%w: object %d outside trailer /Size %d", ErrBadSection, num, size)
		}
	}
	return nil
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, ErrNoStartXRef
	}
	rest := bytes.TrimLeft(data[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	off, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	if off <= 0 || off >= int64(len(data)) {
		return 0, fmt.Errorf("xref offset out of range: %d", off)
	}
	return off, nil
}

// readSection parses the classic table or xref stream at offset.
func (r *resolver) readSection(ctx context.Context, data []byte, offset int64) (*table, *raw.DictObj, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, nil, fmt.Errorf("%w: offset %d out of range", ErrBadSection, offset)
	}
	s := scanner.New(bytes.NewReader(data), scanner.Config{})
	if err := s.SeekTo(offset); err != nil {
		return nil, nil, err
	}
	or := scanner.NewObjectReader(s, nil)
	tok, err := or.Next()
	if err != nil {
		return nil, nil, fmt.Errorf("%w at %d: %v", ErrBadSection, offset, err)
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		return readTable(or)
	}
	or.Unread(tok)
	return r.readStream(ctx, or)
}

func readTable(or *scanner.ObjectReader) (*table, *raw.DictObj, error) {
	t := &table{entries: make(map[int]entry), kind: "table"}
	for {
		tok, err := or.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBadSection, err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := or.ReadObject(raw.ObjectRef{})
			if err != nil {
				return nil, nil, fmt.Errorf("parse trailer: %w", err)
			}
			trailer, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, nil, fmt.Errorf("%w: trailer is not a dictionary", ErrBadSection)
			}
			return t, trailer, nil
		}
		startTok := tok
		countTok, err := or.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBadSection, err)
		}
		if !isInt(startTok) || !isInt(countTok) {
			return nil, nil, fmt.Errorf("%w: invalid subsection header at %d", ErrBadSection, startTok.Pos)
		}
		first, count := int(startTok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err1 := or.Next()
			genTok, err2 := or.Next()
			kindTok, err3 := or.Next()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, nil, fmt.Errorf("%w: unexpected end of section: %v", ErrBadSection, err)
			}
			if !isInt(offTok) || !isInt(genTok) || kindTok.Type != scanner.TokenKeyword {
				return nil, nil, fmt.Errorf("%w: invalid entry at %d", ErrBadSection, offTok.Pos)
			}
			num := first + i
			switch kindTok.Str {
			case "n":
				t.entries[num] = entry{offset: offTok.Int, gen: int(genTok.Int)}
			case "f":
				t.entries[num] = entry{free: true, gen: int(genTok.Int)}
			default:
				return nil, nil, fmt.Errorf("%w: entry type %q", ErrBadSection, kindTok.Str)
			}
		}
	}
}

func (r *resolver) readStream(ctx context.Context, or *scanner.ObjectReader) (*table, *raw.DictObj, error) {
	ref, pos, err := or.ExpectObjectHeader()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadSection, err)
	}
	obj, err := or.ReadObject(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: xref stream %s: %v", ErrBadSection, ref, err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, nil, fmt.Errorf("%w: object at %d is not a dictionary", ErrBadSection, pos)
	}
	if typ, _ := dict.Name("Type"); typ != "XRef" {
		return nil, nil, fmt.Errorf("%w: object at %d is not an xref stream", ErrBadSection, pos)
	}
	if n, ok := dict.Int("Length"); ok {
		or.SetStreamLengthHint(n)
	}
	tok, err := or.Next()
	if err != nil || tok.Type != scanner.TokenStream {
		return nil, nil, fmt.Errorf("%w: xref stream %s has no data", ErrBadSection, ref)
	}

	names, params := filters.ExtractFilters(dict)
	payload, err := filters.NewStandardPipeline(r.cfg.Limits).Decode(ctx, tok.Bytes, names, params)
	if err != nil {
		return nil, nil, fmt.Errorf("decode xref stream %s: %w", ref, err)
	}
	t, err := parseStreamEntries(dict, payload)
	if err != nil {
		return nil, nil, err
	}
	return t, dict, nil
}

func parseStreamEntries(dict *raw.DictObj, payload []byte) (*table, error) {
	widths, err := intArray(dict, "W")
	if err != nil || len(widths) != 3 {
		return nil, fmt.Errorf("%w: xref stream /W must hold three integers", ErrBadSection)
	}
	for _, w := range widths {
		if w < 0 || w > 8 {
			return nil, fmt.Errorf("%w: xref stream field width %d", ErrBadSection, w)
		}
	}
	size, _ := dict.Int("Size")
	index, err := intArray(dict, "Index")
	if err != nil || len(index) == 0 {
		index = []int64{0, size}
	}
	if len(index)%2 != 0 {
		return nil, fmt.Errorf("%w: odd /Index length", ErrBadSection)
	}

	rowLen := int(widths[0] + widths[1] + widths[2])
	if rowLen == 0 {
		return nil, fmt.Errorf("%w: empty xref stream rows", ErrBadSection)
	}
	t := &table{entries: make(map[int]entry), kind: "xref-stream"}
	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := int(index[i]), int(index[i+1])
		for j := 0; j < count; j++ {
			if pos+rowLen > len(payload) {
				return nil, fmt.Errorf("%w: xref stream truncated", ErrBadSection)
			}
			row := payload[pos : pos+rowLen]
			pos += rowLen

			typ := int64(1)
			if widths[0] > 0 {
				typ = readField(row[:widths[0]])
			}
			f2 := readField(row[widths[0] : widths[0]+widths[1]])
			f3 := readField(row[widths[0]+widths[1]:])
			num := first + j
			switch typ {
			case 0:
				t.entries[num] = entry{free: true, gen: int(f3)}
			case 1:
				t.entries[num] = entry{offset: f2, gen: int(f3)}
			case 2:
				t.entries[num] = entry{compressed: true, streamNum: int(f2), index: int(f3)}
			}
		}
	}
	return t, nil
}

func readField(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func intArray(dict *raw.DictObj, key string) ([]int64, error) {
	obj, ok := dict.Get(key)
	if !ok {
		return nil, fmt.Errorf("missing /%s", key)
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok {
		return nil, fmt.Errorf("/%s is not an array", key)
	}
	out := make([]int64, 0, arr.Len())
	for _, item := range arr.Items {
		n, ok := item.(raw.NumberObj)
		if !ok {
			return nil, fmt.Errorf("/%s holds a non-number", key)
		}
		out = append(out, n.Int())
	}
	return out, nil
}

func isInt(tok scanner.Token) bool { return tok.Type == scanner.TokenNumber && tok.IsInt }

type entry struct {
	offset     int64
	gen        int
	free       bool
	compressed bool
	streamNum  int
	index      int
}

type table struct {
	entries map[int]entry
	kind    string
}

// mergeOlder copies entries from an older section without overriding any
// number the newer sections already defined, including free ones.
func (t *table) mergeOlder(older *table) {
	for num, e := range older.entries {
		if _, ok := t.entries[num]; !ok {
			t.entries[num] = e
		}
	}
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.free || e.compressed {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || !e.compressed {
		return 0, 0, false
	}
	return e.streamNum, e.index, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if !e.free && k != 0 {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Type() string { return t.kind }

func readAll(r io.ReaderAt) ([]byte, error) {
	var buf bytes.Buffer
	const chunk = int64(32 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if errors.Is(err, io.EOF) || (err == nil && int64(n) < chunk) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
	}
	return buf.Bytes(), nil
}
