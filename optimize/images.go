package optimize

import (
	"context"

	"github.com/wudi/pdfshrink/filters"
	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/observability"
)

// Outcome is what happened to one image.
type Outcome int

const (
	OutcomeReplaced Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

// Failure records one image that could not be recompressed.
type Failure struct {
	Ref    raw.ObjectRef
	Filter string
	Err    error
}

// Result counts the outcomes of one OptimizeImages pass.
type Result struct {
	Found     int
	Optimized int
	Skipped   int
	Failures  []Failure
	// BytesBefore and BytesAfter sum the stored sizes of the replaced images.
	BytesBefore int64
	BytesAfter  int64
}

// Failed is the number of images that could not be recompressed.
func (r Result) Failed() int { return len(r.Failures) }

// ScanImages returns every image stream in ascending object-number order.
func ScanImages(doc *raw.Document) []raw.ObjectRef {
	var refs []raw.ObjectRef
	for _, ref := range doc.Refs() {
		if s, ok := doc.Stream(ref); ok && IsImage(s) {
			refs = append(refs, ref)
		}
	}
	return refs
}

// OptimizeImages recompresses every image of doc in place. Failures are
// isolated per image; only cancellation of ctx ends the pass early.
func (o *Optimizer) OptimizeImages(ctx context.Context, doc *raw.Document) (Result, error) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanOptimizeImages)
	defer span.Finish()

	refs := ScanImages(doc)
	res := Result{Found: len(refs)}
	span.SetTag("images", len(refs))
	o.logger.Info("found image xobjects", observability.Int("count", len(refs)))

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			span.SetError(err)
			return res, err
		}
		stream, _ := doc.Stream(ref)
		before := len(stream.Data)
		outcome, desc, err := o.optimizeImage(ctx, doc, ref)
		switch outcome {
		case OutcomeReplaced:
			res.Optimized++
			res.BytesBefore += int64(before)
			res.BytesAfter += int64(len(stream.Data))
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeFailed:
			if ctx.Err() != nil {
				span.SetError(ctx.Err())
				return res, ctx.Err()
			}
			filter := ""
			if desc != nil {
				filter = desc.Filter.String()
			}
			res.Failures = append(res.Failures, Failure{Ref: ref, Filter: filter, Err: err})
			o.logger.Warn("image failed",
				observability.String("object", ref.String()),
				observability.String("filter", filter),
				observability.Error("error", err))
		}
	}

	o.logger.Info("images processed",
		observability.Int("optimized", res.Optimized),
		observability.Int("skipped", res.Skipped),
		observability.Int("failed", res.Failed()))
	return res, nil
}

// optimizeImage runs Extract, DecodePixels, Recompress and then either
// replaces the stream or leaves it untouched.
func (o *Optimizer) optimizeImage(ctx context.Context, doc *raw.Document, ref raw.ObjectRef) (Outcome, *ImageDescriptor, error) {
	_, span := o.tracer.StartSpan(ctx, observability.SpanImage)
	defer span.Finish()
	span.SetTag("object", ref.String())
	log := o.logger.With(observability.String("object", ref.String()))

	stream, _ := doc.Stream(ref)
	if o.cfg.SkipJPEG {
		if fc := classifyFilters(filterNames(doc, stream)); fc.Kind == FilterDCT {
			log.Debug("skipped, already jpeg")
			return OutcomeSkipped, nil, nil
		}
	}

	desc, err := Extract(ctx, doc, ref, o.pipeline)
	if err != nil {
		span.SetError(err)
		return OutcomeFailed, desc, err
	}
	img, err := decodePixels(desc.Data, desc.Width, desc.Height, desc.ColorSpace, desc.BitsPerComponent, o.maxPixels)
	if err != nil {
		span.SetError(err)
		return OutcomeFailed, desc, err
	}
	data, w, h, err := Recompress(img, o.cfg.MaxWidth, o.cfg.Quality)
	if err != nil {
		span.SetError(err)
		return OutcomeFailed, desc, err
	}

	if len(data) >= desc.StoredSize && !desc.Filter.Contains("FlateDecode") {
		log.Info("skipped, compressed was larger",
			observability.Int("stored", desc.StoredSize),
			observability.Int("compressed", len(data)))
		return OutcomeSkipped, desc, nil
	}
	ReplaceWithJPEG(stream, data, w, h)
	log.Debug("image replaced",
		observability.String("filter", desc.Filter.String()),
		observability.Int("stored", desc.StoredSize),
		observability.Int("compressed", len(data)),
		observability.Int("width", w),
		observability.Int("height", h))
	return OutcomeReplaced, desc, nil
}

func filterNames(doc *raw.Document, s *raw.StreamObj) ([]string, []*raw.DictObj) {
	return filters.ExtractFilters(resolvedFilterDict(doc, s.Dict))
}
