// Package gifsicle implements the transform primitives by shelling out to the
// gifsicle optimizer.  Every call is bounded by a timeout; a call that fails
// or times out degrades to the wrapped fallback backend for that call only.
package gifsicle

import (
	"bytes"
	"context"
	"fmt"
	"image/gif"
	"time"

	"github.com/gifpress/gifpress/core"
	apperrors "github.com/gifpress/gifpress/errors"
)

// Options configures the native backend.
type Options struct {
	Binary  string        // default "gifsicle"
	Timeout time.Duration // per subprocess call; default 60s
}

// Backend drives gifsicle as a subprocess.  Safe for concurrent use.
type Backend struct {
	binary   string
	timeout  time.Duration
	fallback core.Backend // per-call degradation target; may be nil
}

// New creates a gifsicle backend.  fallback receives any call whose
// subprocess fails; pass nil to surface subprocess errors instead.
func New(opts Options, fallback core.Backend) *Backend {
	if opts.Binary == "" {
		opts.Binary = "gifsicle"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Backend{binary: opts.Binary, timeout: opts.Timeout, fallback: fallback}
}

func (b *Backend) Kind() core.BackendKind { return core.BackendGifsicle }

func (b *Backend) SupportsLossy() bool { return true }

// QuantizeColors reduces the palette via --colors.
func (b *Backend) QuantizeColors(ctx context.Context, a *core.Asset, n int) (*core.Asset, error) {
	if n < 2 {
		n = 2
	}
	if n > 256 {
		n = 256
	}
	out, err := b.transform(ctx, a, []string{fmt.Sprintf("--colors=%d", n)}, nil)
	if err != nil {
		if b.fallback != nil {
			return b.fallback.QuantizeColors(ctx, a, n)
		}
		return nil, err
	}
	out.Colors = n
	return out, nil
}

// ApplyLossy applies lossy frame-delta compression via --lossy.  There is no
// in-process equivalent, so a failed call returns the input unchanged rather
// than delegating.
func (b *Backend) ApplyLossy(ctx context.Context, a *core.Asset, level int) (*core.Asset, error) {
	if level <= 0 {
		return a, nil
	}
	out, err := b.transform(ctx, a, []string{fmt.Sprintf("--lossy=%d", level)}, nil)
	if err != nil {
		return a, nil
	}
	return out, nil
}

// Rescale resizes all frames via --scale.  Never upsamples.
func (b *Backend) Rescale(ctx context.Context, a *core.Asset, factor float64) (*core.Asset, error) {
	if factor >= 1 {
		return a, nil
	}
	if factor <= 0 {
		return nil, apperrors.New(apperrors.CategoryBackend, "gifsicle.rescale", apperrors.ErrInvalidInput)
	}
	out, err := b.transform(ctx, a, []string{fmt.Sprintf("--scale=%.3f", factor)}, nil)
	if err != nil {
		if b.fallback != nil {
			return b.fallback.Rescale(ctx, a, factor)
		}
		return nil, err
	}
	out.Width = int(float64(a.Width) * factor)
	out.Height = int(float64(a.Height) * factor)
	return out, nil
}

// ResampleFrames keeps a uniform-stride subset of frames using gifsicle frame
// selections (#0 #2 ...), stretching the shared delay to preserve duration.
func (b *Backend) ResampleFrames(ctx context.Context, a *core.Asset, rate float64) (*core.Asset, error) {
	if rate >= 1 || a.FrameCount <= 1 {
		return a, nil
	}
	keep := int(rate*float64(a.FrameCount) + 0.5)
	if keep < 1 {
		keep = 1
	}
	selections := frameSelections(a.FrameCount, keep)

	flags := []string{"--unoptimize"}
	if d := meanDelay(a); d > 0 {
		stretched := d * a.FrameCount / keep
		flags = append(flags, fmt.Sprintf("--delay=%d", stretched))
	}

	out, err := b.transform(ctx, a, flags, selections)
	if err != nil {
		if b.fallback != nil {
			return b.fallback.ResampleFrames(ctx, a, rate)
		}
		return nil, err
	}
	out.FrameCount = len(selections)
	return out, nil
}

// AdjustDuration multiplies frame delays.  gifsicle only sets absolute
// delays, so animations with uniform timing are handled natively and
// everything else delegates to the fallback.
func (b *Backend) AdjustDuration(ctx context.Context, a *core.Asset, factor float64) (*core.Asset, error) {
	if factor <= 0 || factor == 1 {
		return a, nil
	}
	if d, uniform := uniformDelay(a); uniform && d > 0 {
		scaled := int(float64(d)*factor + 0.5)
		if scaled < 1 {
			scaled = 1
		}
		out, err := b.transform(ctx, a, []string{fmt.Sprintf("--delay=%d", scaled)}, nil)
		if err == nil {
			return out, nil
		}
	}
	if b.fallback != nil {
		return b.fallback.AdjustDuration(ctx, a, factor)
	}
	return a, nil
}

// Crop removes pixel margins via --crop.
func (b *Backend) Crop(ctx context.Context, a *core.Asset, margins core.CropMargins) (*core.Asset, error) {
	if margins.Zero() {
		return a, nil
	}
	w := a.Width - margins.Left - margins.Right
	h := a.Height - margins.Top - margins.Bottom
	if w <= 0 || h <= 0 || margins.Top < 0 || margins.Bottom < 0 || margins.Left < 0 || margins.Right < 0 {
		return nil, apperrors.New(apperrors.CategoryCrop, "gifsicle.crop", apperrors.ErrInvalidCrop)
	}
	flag := fmt.Sprintf("--crop=%d,%d+%dx%d", margins.Left, margins.Top, w, h)
	out, err := b.transform(ctx, a, []string{flag}, nil)
	if err != nil {
		if b.fallback != nil {
			return b.fallback.Crop(ctx, a, margins)
		}
		return nil, err
	}
	out.Width, out.Height = w, h
	return out, nil
}

// Encode runs a final -O3 optimization pass and returns the bytes.  A failed
// pass degrades to the asset's unoptimized bytes.
func (b *Backend) Encode(ctx context.Context, a *core.Asset) ([]byte, error) {
	input, err := b.assetBytes(ctx, a)
	if err != nil {
		return nil, err
	}
	data, err := b.run(ctx, input, []string{"--optimize=3"}, nil)
	if err != nil {
		return input, nil
	}
	return data, nil
}

// transform runs one gifsicle invocation and wraps the output in a new Asset.
func (b *Backend) transform(ctx context.Context, a *core.Asset, flags, selections []string) (*core.Asset, error) {
	input, err := b.assetBytes(ctx, a)
	if err != nil {
		return nil, err
	}
	data, err := b.run(ctx, input, flags, selections)
	if err != nil {
		return nil, err
	}
	out := a.Clone()
	out.Data = data
	out.GIF = nil
	return out, nil
}

// assetBytes returns encoded bytes for the asset, using the fallback encoder
// for assets that only exist as decoded frames.
func (b *Backend) assetBytes(ctx context.Context, a *core.Asset) ([]byte, error) {
	if a.Data != nil {
		return a.Data, nil
	}
	if b.fallback != nil {
		return b.fallback.Encode(ctx, a)
	}
	return nil, apperrors.New(apperrors.CategoryBackend, "gifsicle.bytes", apperrors.ErrEmptyInput)
}

// frameSelections builds gifsicle frame-selection arguments (#0 #3 ...) for a
// uniform stride keeping `keep` of `total` frames.
func frameSelections(total, keep int) []string {
	if keep >= total {
		keep = total
	}
	step := float64(total) / float64(keep)
	out := make([]string, 0, keep)
	last := -1
	for i := 0; i < keep; i++ {
		idx := int(float64(i) * step)
		if idx >= total {
			idx = total - 1
		}
		if idx == last {
			continue
		}
		out = append(out, fmt.Sprintf("#%d", idx))
		last = idx
	}
	return out
}

// meanDelay returns the average frame delay in 1/100s, or 0 when unknown.
func meanDelay(a *core.Asset) int {
	g := decodedFrames(a)
	if g == nil || len(g.Delay) == 0 {
		return 0
	}
	sum := 0
	for _, d := range g.Delay {
		sum += d
	}
	return sum / len(g.Delay)
}

// uniformDelay reports whether every frame shares one delay value.
func uniformDelay(a *core.Asset) (int, bool) {
	g := decodedFrames(a)
	if g == nil || len(g.Delay) == 0 {
		return 0, false
	}
	first := g.Delay[0]
	for _, d := range g.Delay[1:] {
		if d != first {
			return 0, false
		}
	}
	return first, true
}

// decodedFrames returns frame metadata, decoding lazily when the asset only
// holds encoded bytes.
func decodedFrames(a *core.Asset) *gif.GIF {
	if a.GIF != nil {
		return a.GIF
	}
	if a.Data == nil {
		return nil
	}
	g, err := gif.DecodeAll(bytes.NewReader(a.Data))
	if err != nil {
		return nil
	}
	return g
}

var _ core.Backend = (*Backend)(nil)
