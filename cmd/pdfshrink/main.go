package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfshrink/observability"
	"github.com/wudi/pdfshrink/optimize"
)

type options struct {
	maxWidth int
	quality  float64
	skipJPEG bool
	verbose  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:   "pdfshrink [flags] <input.pdf> <output.pdf>",
		Short: "Recompress the images of a PDF as JPEG",
		Long: `Decodes every image XObject, scales images wider than --max-width down,
re-encodes them as baseline JPEG and writes a pruned copy of the document.
Images that fail to decode are left as they are.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := optimize.New(opts.config(stderr))
			if err != nil {
				return err
			}
			sum, err := o.Run(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			for _, f := range sum.Failures {
				fmt.Fprintf(stderr, "pdfshrink: image %s (%s): %v\n", f.Ref, f.Filter, f.Err)
			}
			fmt.Fprintln(stdout, sum)
			return nil
		},
	}
	root.Flags().IntVar(&opts.maxWidth, "max-width", optimize.DefaultMaxWidth, "Scale images wider than this many pixels down to it")
	root.Flags().Float64Var(&opts.quality, "quality", optimize.DefaultQuality, "JPEG quality in (0,100]")
	root.Flags().BoolVar(&opts.skipJPEG, "skip-jpeg", false, "Leave images that are already JPEG untouched")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every image")

	root.AddCommand(newImagesCmd(&opts, stdout, stderr))
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root
}

func (opts options) config(stderr io.Writer) optimize.Config {
	cfg := optimize.DefaultConfig()
	cfg.MaxWidth = opts.maxWidth
	cfg.Quality = opts.quality
	cfg.SkipJPEG = opts.skipJPEG
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	cfg.Logger = observability.NewSlogLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
	return cfg
}

type imageSummary struct {
	Object     string `json:"object"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Bits       int    `json:"bitsPerComponent"`
	ColorSpace string `json:"colorSpace"`
	Filter     string `json:"filter"`
	StoredSize int    `json:"storedSize"`
	Error      string `json:"error,omitempty"`
}

// newImagesCmd lists the images a run would visit without writing anything.
func newImagesCmd(opts *options, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:          "images <input.pdf>",
		Short:        "List the image XObjects of a PDF",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := optimize.New(opts.config(stderr))
			if err != nil {
				return err
			}
			doc, _, err := o.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			summaries := []imageSummary{}
			for _, ref := range optimize.ScanImages(doc) {
				desc, err := o.Describe(cmd.Context(), doc, ref)
				s := imageSummary{Object: ref.String()}
				if desc != nil {
					s.Width, s.Height, s.Bits = desc.Width, desc.Height, desc.BitsPerComponent
					s.ColorSpace = desc.ColorSpace.String()
					s.Filter = desc.Filter.String()
					s.StoredSize = desc.StoredSize
				}
				if err != nil {
					s.Error = err.Error()
				}
				summaries = append(summaries, s)
			}
			data, err := json.MarshalIndent(summaries, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal images: %w", err)
			}
			fmt.Fprintf(stdout, "%s\n", data)
			return nil
		},
	}
}
