package optimize

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfshrink/filters"
	"github.com/wudi/pdfshrink/observability"
	"github.com/wudi/pdfshrink/writer"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid optimizer config")

const (
	DefaultMaxWidth = 1200
	DefaultQuality  = 60
)

// Config holds the settings of an Optimizer. Start from DefaultConfig.
type Config struct {
	// MaxWidth is the widest an image may stay. Wider images are scaled
	// down to exactly MaxWidth, keeping their aspect ratio.
	MaxWidth int
	// Quality is the JPEG quality in (0,100].
	Quality float64
	// SkipJPEG leaves DCTDecode images untouched instead of re-encoding
	// them on every run.
	SkipJPEG bool

	Limits filters.Limits
	Writer writer.Config
	Logger observability.Logger
	Tracer observability.Tracer
}

// DefaultConfig returns the settings used by the pdfshrink command.
func DefaultConfig() Config {
	return Config{
		MaxWidth: DefaultMaxWidth,
		Quality:  DefaultQuality,
		Limits:   filters.Limits{MaxDecompressedSize: 512 << 20},
	}
}

func (c Config) Validate() error {
	if c.MaxWidth <= 0 {
		return fmt.Errorf("%w: max width must be positive, got %d", ErrInvalidConfig, c.MaxWidth)
	}
	if !(c.Quality > 0 && c.Quality <= 100) {
		return fmt.Errorf("%w: quality must be in (0,100], got %g", ErrInvalidConfig, c.Quality)
	}
	if c.Limits.MaxDecompressedSize < 0 {
		return fmt.Errorf("%w: negative decompression limit", ErrInvalidConfig)
	}
	return nil
}
