// Package optimize recompresses the raster images of a PDF document as
// baseline JPEG and prunes whatever the old image dictionaries left behind.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/wudi/pdfshrink/filters"
	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/observability"
	"github.com/wudi/pdfshrink/parser"
	"github.com/wudi/pdfshrink/recovery"
	"github.com/wudi/pdfshrink/writer"
)

// Summary describes a complete run.
type Summary struct {
	ImagesFound     int
	ImagesOptimized int
	ImagesFailed    int
	ImagesSkipped   int
	ObjectsPruned   int
	InputBytes      int64
	OutputBytes     int64
	Failures        []Failure
}

// Optimizer recompresses the images of documents with one Config.
// It keeps no state between runs.
type Optimizer struct {
	cfg       Config
	pipeline  *filters.Pipeline
	maxPixels int64
	writer    writer.Writer
	logger    observability.Logger
	tracer    observability.Tracer
}

// New validates cfg and returns an optimizer for it.
func New(cfg Config) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{
		cfg:       cfg,
		pipeline:  filters.NewStandardPipeline(cfg.Limits),
		maxPixels: MaxPixels,
		writer:    writer.New(),
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
	}
	// Decoded pixels are held as RGBA, four bytes each.
	if limit := cfg.Limits.MaxDecompressedSize / 4; limit > 0 && limit < o.maxPixels {
		o.maxPixels = limit
	}
	if o.logger == nil {
		o.logger = observability.NopLogger{}
	}
	if o.tracer == nil {
		o.tracer = observability.NopTracer()
	}
	return o, nil
}

// Describe extracts the descriptor of one image with the optimizer's
// filter pipeline and limits, without modifying doc.
func (o *Optimizer) Describe(ctx context.Context, doc *raw.Document, ref raw.ObjectRef) (*ImageDescriptor, error) {
	return Extract(ctx, doc, ref, o.pipeline)
}

// Process recompresses the images of doc and prunes unreachable objects.
// Only cancellation and pruning failures are returned as errors.
func (o *Optimizer) Process(ctx context.Context, doc *raw.Document) (Summary, error) {
	res, err := o.OptimizeImages(ctx, doc)
	sum := Summary{
		ImagesFound:     res.Found,
		ImagesOptimized: res.Optimized,
		ImagesFailed:    res.Failed(),
		ImagesSkipped:   res.Skipped,
		Failures:        res.Failures,
	}
	if err != nil {
		return sum, err
	}

	_, span := o.tracer.StartSpan(ctx, observability.SpanPrune)
	removed, err := Prune(doc)
	span.SetTag("removed", removed)
	if err != nil {
		span.SetError(err)
		span.Finish()
		return sum, &DocumentError{Op: "prune", Kind: ErrDocumentSave, Err: err}
	}
	span.Finish()
	sum.ObjectsPruned = removed
	o.logger.Debug("pruned unreachable objects", observability.Int("count", removed))
	return sum, nil
}

// Run loads input, recompresses its images, and saves the result to output.
// Any load, prune or save failure is a *DocumentError and leaves output as it was.
func (o *Optimizer) Run(ctx context.Context, input, output string) (Summary, error) {
	doc, size, err := o.Load(ctx, input)
	if err != nil {
		return Summary{}, err
	}

	sum, err := o.Process(ctx, doc)
	sum.InputBytes = size
	if err != nil {
		return sum, err
	}

	ctx, span := o.tracer.StartSpan(ctx, observability.SpanSave)
	defer span.Finish()
	n, err := writer.SaveFile(ctx, o.writer, doc, output, o.cfg.Writer)
	if err != nil {
		span.SetError(err)
		return sum, &DocumentError{Op: "save", Path: output, Kind: ErrDocumentSave, Err: err}
	}
	sum.OutputBytes = n
	o.logger.Info("saved document",
		observability.String("path", output),
		observability.Int64("input_bytes", sum.InputBytes),
		observability.Int64("output_bytes", n))
	return sum, nil
}

// Load parses the file at path, dropping damaged objects it cannot recover.
// It returns the document and the file size.
func (o *Optimizer) Load(ctx context.Context, path string) (*raw.Document, int64, error) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanLoad)
	defer span.Finish()

	f, err := os.Open(path)
	if err != nil {
		span.SetError(err)
		return nil, 0, &DocumentError{Op: "load", Path: path, Kind: ErrDocumentIO, Err: err}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		span.SetError(err)
		return nil, 0, &DocumentError{Op: "load", Path: path, Kind: ErrDocumentIO, Err: err}
	}

	lenient := recovery.NewLenientStrategy()
	p := parser.NewDocumentParser(parser.Config{Recovery: lenient, Limits: o.cfg.Limits})
	doc, err := p.Parse(ctx, f)
	if err != nil {
		span.SetError(err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, err
		}
		return nil, 0, &DocumentError{Op: "load", Path: path, Kind: ErrDocumentParse, Err: err}
	}
	for _, e := range lenient.Errors {
		o.logger.Warn("recovered from damaged object", observability.Error("error", e))
	}
	o.logger.Info("loaded document",
		observability.String("path", path),
		observability.String("version", doc.Version),
		observability.Int("objects", len(doc.Objects)),
		observability.String("producer", doc.Metadata.Producer))
	return doc, info.Size(), nil
}

func (s Summary) String() string {
	return fmt.Sprintf("found %d images: %d optimized, %d skipped, %d failed; pruned %d objects; %d -> %d bytes",
		s.ImagesFound, s.ImagesOptimized, s.ImagesSkipped, s.ImagesFailed, s.ObjectsPruned, s.InputBytes, s.OutputBytes)
}
