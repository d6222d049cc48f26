package optimize

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfshrink/filters"
	"github.com/wudi/pdfshrink/ir/raw"
)

// ImageDescriptor is the per-image working set. It lives for one iteration.
type ImageDescriptor struct {
	Ref              raw.ObjectRef
	Width            int
	Height           int
	BitsPerComponent int
	ColorSpace       ColorSpace
	Filter           FilterChain
	// StoredSize is the length of the stream content as found in the file.
	StoredSize int
	// Data is the payload with every non-DCT filter removed.
	Data []byte
}

// IsImage reports whether s is an image XObject. A missing /Type counts as XObject.
func IsImage(s *raw.StreamObj) bool {
	if s == nil {
		return false
	}
	subtype, ok := s.Dict.Name("Subtype")
	return ok && subtype == "Image"
}

// Extract builds the descriptor for the image stream stored under ref.
// The stream is never modified.
func Extract(ctx context.Context, doc *raw.Document, ref raw.ObjectRef, pipeline *filters.Pipeline) (*ImageDescriptor, error) {
	stream, ok := doc.Stream(ref)
	if !ok || !IsImage(stream) {
		return nil, fmt.Errorf("object %s is not an image stream", ref)
	}
	dict := stream.Dict
	desc := &ImageDescriptor{
		Ref:              ref,
		Width:            intValue(doc, dict, "Width", 0),
		Height:           intValue(doc, dict, "Height", 0),
		BitsPerComponent: intValue(doc, dict, "BitsPerComponent", 8),
		ColorSpace:       ParseColorSpace(colorSpaceName(doc, dict)),
		Filter:           classifyFilters(filters.ExtractFilters(resolvedFilterDict(doc, dict))),
		StoredSize:       len(stream.Data),
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return desc, fmt.Errorf("%w: %dx%d", ErrMissingDimensions, desc.Width, desc.Height)
	}

	data, err := payload(ctx, stream.Data, desc.Filter, pipeline)
	if err != nil {
		return desc, err
	}
	desc.Data = data
	return desc, nil
}

func payload(ctx context.Context, stored []byte, fc FilterChain, pipeline *filters.Pipeline) ([]byte, error) {
	switch fc.Kind {
	case FilterNone:
		return bytes.Clone(stored), nil
	case FilterDCT:
		if len(fc.Names) == 1 {
			return bytes.Clone(stored), nil
		}
		last := len(fc.Names) - 1
		out, err := pipeline.Decode(ctx, stored, fc.Names[:last], fc.Params[:last])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedFilter, fc, err)
		}
		return out, nil
	case FilterFlate, FilterStandard:
		out, err := pipeline.Decode(ctx, stored, fc.Names, fc.Params)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if fc.Kind == FilterFlate && !errors.Is(err, filters.ErrSizeLimit) {
			if inflated, ierr := filters.Inflate(stored, pipeline.Limits().MaxDecompressedSize); ierr == nil {
				return inflated, nil
			}
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedFilter, fc, err)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, fc.Unsupported)
	}
}

func intValue(doc *raw.Document, dict *raw.DictObj, key string, def int) int {
	v, ok := dict.Get(key)
	if !ok {
		return def
	}
	n, ok := doc.Resolve(v).(raw.NumberObj)
	if !ok {
		return def
	}
	return int(n.Int())
}

// colorSpaceName returns a direct name, or the first element of an array.
// Anything else yields "" and is treated as unsupported.
func colorSpaceName(doc *raw.Document, dict *raw.DictObj) string {
	v, ok := dict.Get("ColorSpace")
	if !ok {
		return ""
	}
	switch cs := doc.Resolve(v).(type) {
	case raw.NameObj:
		return cs.Val
	case *raw.ArrayObj:
		if first, ok := cs.Get(0); ok {
			if n, ok := doc.Resolve(first).(raw.NameObj); ok {
				return n.Val
			}
		}
	}
	return ""
}

// resolvedFilterDict copies Filter and DecodeParms with indirect values resolved.
func resolvedFilterDict(doc *raw.Document, dict *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	for _, key := range []string{"Filter", "DecodeParms"} {
		v, ok := dict.Get(key)
		if !ok {
			continue
		}
		v = doc.Resolve(v)
		if arr, ok := v.(*raw.ArrayObj); ok {
			items := make([]raw.Object, len(arr.Items))
			for i, item := range arr.Items {
				items[i] = doc.Resolve(item)
			}
			v = raw.NewArray(items...)
		}
		out.Set(key, v)
	}
	return out
}
