// Package vips implements a libvips-powered backend. It shines on large
// animations: quantization and scaling run through vips' streaming pipeline
// and the cgif encoder, without materialising every frame in Go memory.
//
// Frame-structure operations (resampling, delay edits, cropping) fall through
// to the wrapped backend; vips treats an animation as a vertical strip of
// pages and slicing that strip per-frame is better done on decoded frames.
package vips

import (
	"context"
	"fmt"
	"math/bits"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/gifpress/gifpress/core"
	apperrors "github.com/gifpress/gifpress/errors"
)

// Options configures the libvips backend.
type Options struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
}

// Backend implements core.Backend on top of libvips.
// Safe for concurrent use across goroutines.
type Backend struct {
	opts     Options
	fallback core.Backend
}

// New initialises libvips and returns a ready Backend. Structure-level
// operations delegate to fallback, which must not be nil.
// Call Shutdown() when the process exits.
func New(opts Options, fallback core.Backend) *Backend {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: opts.MaxWorkers,
		MaxCacheSize:     opts.MaxCacheSize,
		ReportLeaks:      opts.ReportLeaks,
	})
	return &Backend{opts: opts, fallback: fallback}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

func (b *Backend) Kind() core.BackendKind { return core.BackendVips }

// SupportsLossy reports false: vips' GIF encoder has no artifact-tolerant
// recompression mode comparable to gifsicle --lossy.
func (b *Backend) SupportsLossy() bool { return false }

// QuantizeColors re-exports the animation with a palette of at most n colors.
// The cgif encoder takes a bit depth, so n rounds down to a power of two.
func (b *Backend) QuantizeColors(ctx context.Context, a *core.Asset, n int) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "vips.quantize", err)
	}
	if n < 2 || n > 256 {
		return nil, apperrors.New(apperrors.CategoryBackend, "vips.quantize",
			fmt.Errorf("color count %d out of range [2,256]", n))
	}

	ref, err := b.loadAnimated(a)
	if err != nil {
		return b.fallback.QuantizeColors(ctx, a, n)
	}
	defer ref.Close()

	out, err := exportGIF(ref, bitDepthFor(n))
	if err != nil {
		return b.fallback.QuantizeColors(ctx, a, n)
	}
	res := rewrap(a, out)
	res.Colors = 1 << bitDepthFor(n)
	return res, nil
}

// ApplyLossy returns the asset unchanged; see SupportsLossy.
func (b *Backend) ApplyLossy(_ context.Context, a *core.Asset, _ int) (*core.Asset, error) {
	return a, nil
}

// Rescale resizes every frame by factor using a Lanczos3 kernel. Animations
// load as a vertical page strip, so the page height is rescaled alongside
// the pixels to keep frame boundaries intact.
func (b *Backend) Rescale(ctx context.Context, a *core.Asset, factor float64) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "vips.rescale", err)
	}
	if factor <= 0 {
		return nil, apperrors.New(apperrors.CategoryBackend, "vips.rescale",
			fmt.Errorf("scale factor %.3f must be positive", factor))
	}
	if factor >= 1 {
		return a, nil
	}

	ref, err := b.loadAnimated(a)
	if err != nil {
		return b.fallback.Rescale(ctx, a, factor)
	}
	defer ref.Close()

	pageH := ref.GetPageHeight()
	if err := ref.Resize(factor, govips.KernelLanczos3); err != nil {
		return b.fallback.Rescale(ctx, a, factor)
	}
	if pageH > 0 {
		newPageH := int(float64(pageH) * factor)
		if newPageH < 1 {
			newPageH = 1
		}
		if err := ref.SetPageHeight(newPageH); err != nil {
			return b.fallback.Rescale(ctx, a, factor)
		}
	}

	out, err := exportGIF(ref, 0)
	if err != nil {
		return b.fallback.Rescale(ctx, a, factor)
	}
	res := rewrap(a, out)
	res.Width = ref.Width()
	res.Height = ref.GetPageHeight()
	return res, nil
}

// ResampleFrames delegates to the wrapped backend.
func (b *Backend) ResampleFrames(ctx context.Context, a *core.Asset, keep float64) (*core.Asset, error) {
	return b.fallback.ResampleFrames(ctx, a, keep)
}

// AdjustDuration delegates to the wrapped backend.
func (b *Backend) AdjustDuration(ctx context.Context, a *core.Asset, factor float64) (*core.Asset, error) {
	return b.fallback.AdjustDuration(ctx, a, factor)
}

// Crop delegates to the wrapped backend.
func (b *Backend) Crop(ctx context.Context, a *core.Asset, m core.CropMargins) (*core.Asset, error) {
	return b.fallback.Crop(ctx, a, m)
}

// Encode re-exports through the cgif encoder, which usually out-compresses
// the standard library writer. If the export comes out larger than the bytes
// already in hand, the smaller representation wins.
func (b *Backend) Encode(ctx context.Context, a *core.Asset) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}

	ref, err := b.loadAnimated(a)
	if err != nil {
		return b.fallback.Encode(ctx, a)
	}
	defer ref.Close()

	out, err := exportGIF(ref, 0)
	if err != nil {
		return b.fallback.Encode(ctx, a)
	}
	if len(a.Data) > 0 && len(a.Data) <= len(out) {
		return a.Data, nil
	}
	return out, nil
}

// loadAnimated opens all pages of the asset's encoded form. Assets that only
// exist as decoded frames are encoded by the wrapped backend first.
func (b *Backend) loadAnimated(a *core.Asset) (*govips.ImageRef, error) {
	data := a.Data
	if len(data) == 0 {
		var err error
		data, err = b.fallback.Encode(context.Background(), a)
		if err != nil {
			return nil, err
		}
	}
	params := govips.NewImportParams()
	params.NumPages.Set(-1)
	ref, err := govips.LoadImageFromBuffer(data, params)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "vips.load", err)
	}
	return ref, nil
}

func exportGIF(ref *govips.ImageRef, bitdepth int) ([]byte, error) {
	ep := govips.NewGifExportParams()
	ep.Effort = 7
	if bitdepth > 0 {
		ep.Bitdepth = bitdepth
	}
	buf, _, err := ref.ExportGIF(ep)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.export", err)
	}
	return buf, nil
}

// rewrap builds a new asset around freshly encoded bytes, dropping the stale
// decoded representation so the next consumer re-decodes as needed.
func rewrap(a *core.Asset, data []byte) *core.Asset {
	return &core.Asset{
		Data:         data,
		Width:        a.Width,
		Height:       a.Height,
		FrameCount:   a.FrameCount,
		Colors:       a.Colors,
		OriginalSize: a.OriginalSize,
	}
}

// bitDepthFor returns the largest bit depth whose palette fits in n colors.
func bitDepthFor(n int) int {
	d := bits.Len(uint(n)) - 1
	if d < 1 {
		d = 1
	}
	if d > 8 {
		d = 8
	}
	return d
}

var _ core.Backend = (*Backend)(nil)
