// Package parser loads a PDF file into a raw.Document.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wudi/pdfshrink/filters"
	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/recovery"
	"github.com/wudi/pdfshrink/scanner"
	"github.com/wudi/pdfshrink/xref"
)

// ErrEncrypted is returned for files whose trailer carries /Encrypt.
var ErrEncrypted = errors.New("encrypted documents are not supported")

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	// Recovery decides what happens to damaged objects. Nil means strict.
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Limits   filters.Limits
	Scanner  scanner.Config
	Cache    Cache
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewStrictStrategy()
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.Limits == (filters.Limits{}) {
		cfg.XRef.Limits = cfg.Limits
	}
	return &DocumentParser{cfg: cfg}
}

// Parse loads every in-use object. Members of object streams become ordinary
// top-level objects, so the container streams can be dropped on rewrite.
func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	resolver := xref.NewResolver(p.cfg.XRef)
	table, err := resolver.Resolve(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	trailer := resolver.Trailer()
	if _, ok := trailer.Get("Encrypt"); ok {
		return nil, ErrEncrypted
	}

	loader, err := (&ObjectLoaderBuilder{
		reader:    r,
		xrefTable: table,
		limits:    p.cfg.Limits,
		scanCfg:   p.cfg.Scanner,
		cache:     p.cfg.Cache,
		recovery:  p.cfg.Recovery,
	}).build()
	if err != nil {
		return nil, err
	}

	doc := raw.NewDocument()
	doc.Trailer = trailer
	doc.Version = detectHeaderVersion(r)

	for _, objNum := range table.Objects() {
		ref := raw.ObjectRef{Num: objNum}
		if _, gen, ok := table.Lookup(objNum); ok {
			ref.Gen = gen
		}
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			if p.skip(err, ref) {
				continue
			}
			return nil, fmt.Errorf("load object %d: %w", objNum, err)
		}
		doc.Objects[ref] = obj
	}

	if resolver.Repaired() {
		// A rebuilt table has no entries for compressed objects.
		if err := p.expandObjectStreams(ctx, loader, doc); err != nil {
			return nil, err
		}
	}

	p.populateMetadata(doc)
	return doc, nil
}

func (p *DocumentParser) skip(err error, ref raw.ObjectRef) bool {
	action := p.cfg.Recovery.OnError(err, recovery.Location{
		ObjectNum: ref.Num,
		ObjectGen: ref.Gen,
		Component: "loader",
	})
	return action != recovery.ActionFail
}

func (p *DocumentParser) expandObjectStreams(ctx context.Context, loader *objectLoader, doc *raw.Document) error {
	for _, ref := range doc.Refs() {
		st, ok := doc.Objects[ref].(*raw.StreamObj)
		if !ok {
			continue
		}
		if typ, _ := st.Dict.Name("Type"); typ != "ObjStm" {
			continue
		}
		members, err := loader.expandObjectStream(ctx, st)
		if err != nil {
			if p.skip(err, ref) {
				continue
			}
			return fmt.Errorf("expand object stream %d: %w", ref.Num, err)
		}
		for num, obj := range members {
			member := raw.ObjectRef{Num: num}
			if _, exists := doc.Objects[member]; !exists {
				doc.Objects[member] = obj
			}
		}
	}
	return nil
}

func (p *DocumentParser) populateMetadata(doc *raw.Document) {
	infoObj, ok := doc.Trailer.Get("Info")
	if !ok {
		return
	}
	dict, ok := doc.Resolve(infoObj).(*raw.DictObj)
	if !ok {
		return
	}
	doc.Metadata = raw.DocumentMetadata{
		Title:    textValue(doc, dict, "Title"),
		Author:   textValue(doc, dict, "Author"),
		Subject:  textValue(doc, dict, "Subject"),
		Creator:  textValue(doc, dict, "Creator"),
		Producer: textValue(doc, dict, "Producer"),
	}
}

func textValue(doc *raw.Document, dict *raw.DictObj, key string) string {
	obj, ok := dict.Get(key)
	if !ok {
		return ""
	}
	str, ok := doc.Resolve(obj).(raw.StringObj)
	if !ok {
		return ""
	}
	return DecodeTextString(str.Bytes)
}

func detectHeaderVersion(r io.ReaderAt) string {
	buf := make([]byte, 1024)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	head := string(buf[:n])
	idx := strings.Index(head, "%PDF-")
	if idx < 0 {
		return ""
	}
	line := head[idx+5:]
	if end := strings.IndexAny(line, "\r\n \t%"); end >= 0 {
		line = line[:end]
	}
	return strings.TrimSpace(line)
}
