// Package fallback implements the transform primitives in-process with
// image/gif and disintegration/imaging.  It is used whenever the native
// gifsicle backend is unavailable, globally or for a single call.
//
// Lossy frame-delta compression is not available in-process; ApplyLossy
// returns its input unchanged and SupportsLossy reports false.  This is an
// intentional capability gap, mirrored by the engine skipping the lossy rung.
package fallback

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/gif"
	"math"

	"github.com/gifpress/gifpress/core"
	apperrors "github.com/gifpress/gifpress/errors"
	"github.com/gifpress/gifpress/utils"
)

// Backend is the in-process transform backend.  Stateless and safe for
// concurrent use.
type Backend struct{}

// New returns the fallback backend.
func New() *Backend { return &Backend{} }

func (b *Backend) Kind() core.BackendKind { return core.BackendFallback }

func (b *Backend) SupportsLossy() bool { return false }

// Decode parses raw GIF bytes into an Asset.
func (b *Backend) Decode(ctx context.Context, data []byte) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "fallback.decode", err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "fallback.decode", apperrors.ErrEmptyInput)
	}
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryInput, "fallback.decode", apperrors.ErrInvalidInput)
	}
	if len(g.Image) == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "fallback.decode", apperrors.ErrZeroFrames)
	}
	a := core.NewAssetFromGIF(g)
	a.Data = utils.CloneBytes(data)
	a.OriginalSize = int64(len(data))
	return a, nil
}

// QuantizeColors reduces every frame's palette to at most n colors.  Frame
// count and dimensions are preserved exactly.
func (b *Backend) QuantizeColors(ctx context.Context, a *core.Asset, n int) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "fallback.quantize", err)
	}
	if n < 2 {
		n = 2
	}
	if n > 256 {
		n = 256
	}
	src, err := b.frames(a)
	if err != nil {
		return nil, err
	}

	palette := uniformPalette(n)
	out := cloneStructure(src)
	for i, frame := range src.Image {
		if len(frame.Palette) <= n {
			out.Image[i] = frame
			continue
		}
		out.Image[i] = repalette(frame, palette)
	}
	return derive(a, out), nil
}

// ApplyLossy is a no-op: in-process lossy delta compression is unsupported.
func (b *Backend) ApplyLossy(_ context.Context, a *core.Asset, _ int) (*core.Asset, error) {
	return a, nil
}

// Rescale resizes every frame by factor.  Factors >= 1 return the input
// unchanged: the fallback never upsamples.
func (b *Backend) Rescale(ctx context.Context, a *core.Asset, factor float64) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "fallback.rescale", err)
	}
	if factor >= 1 {
		return a, nil
	}
	if factor <= 0 {
		return nil, apperrors.New(apperrors.CategoryBackend, "fallback.rescale",
			apperrors.ErrInvalidInput)
	}
	src, err := b.frames(a)
	if err != nil {
		return nil, err
	}

	dstW, dstH := utils.ScaleDimensions(src.Config.Width, src.Config.Height, factor)
	out := cloneStructure(src)
	out.Config.Width, out.Config.Height = dstW, dstH
	for i, frame := range src.Image {
		out.Image[i] = resizeFrame(frame, src.Config.Width, src.Config.Height, dstW, dstH)
	}
	return derive(a, out), nil
}

// ResampleFrames keeps a uniform-stride subset of roughly rate of the frames,
// at least one, and stretches delays so total playback duration holds.
func (b *Backend) ResampleFrames(ctx context.Context, a *core.Asset, rate float64) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "fallback.resample", err)
	}
	src, err := b.frames(a)
	if err != nil {
		return nil, err
	}
	total := len(src.Image)
	if rate >= 1 || total <= 1 {
		return a, nil
	}

	keep := int(math.Round(rate * float64(total)))
	if keep < 1 {
		keep = 1
	}
	kept := strideIndices(total, keep)

	out := &gif.GIF{
		Image:     make([]*image.Paletted, 0, keep),
		Delay:     make([]int, 0, keep),
		Disposal:  nil, // frames are composited below, no deltas remain
		Config:    src.Config,
		LoopCount: src.LoopCount,
	}

	// Frames may be deltas against prior frames, so composite progressively
	// and snapshot the canvas at each kept index.
	canvas := image.NewRGBA(image.Rect(0, 0, src.Config.Width, src.Config.Height))
	next := 0
	for i, frame := range src.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		if next < len(kept) && i == kept[next] {
			out.Image = append(out.Image, snapshotPaletted(canvas, frame.Palette))
			out.Delay = append(out.Delay, spanDelay(src.Delay, kept, next, total))
			next++
		}
	}
	return derive(a, out), nil
}

// AdjustDuration multiplies every frame delay by factor.
func (b *Backend) AdjustDuration(ctx context.Context, a *core.Asset, factor float64) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "fallback.duration", err)
	}
	if factor <= 0 || factor == 1 {
		return a, nil
	}
	src, err := b.frames(a)
	if err != nil {
		return nil, err
	}
	out := cloneStructure(src)
	copy(out.Image, src.Image)
	out.Delay = make([]int, len(src.Delay))
	for i, d := range src.Delay {
		scaled := int(math.Round(float64(d) * factor))
		if scaled < 1 && d > 0 {
			scaled = 1
		}
		out.Delay[i] = scaled
	}
	return derive(a, out), nil
}

// Crop removes pixel margins from every frame.
func (b *Backend) Crop(ctx context.Context, a *core.Asset, margins core.CropMargins) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCrop, "fallback.crop", err)
	}
	if margins.Zero() {
		return a, nil
	}
	src, err := b.frames(a)
	if err != nil {
		return nil, err
	}

	w := src.Config.Width - margins.Left - margins.Right
	h := src.Config.Height - margins.Top - margins.Bottom
	if w <= 0 || h <= 0 || margins.Top < 0 || margins.Bottom < 0 || margins.Left < 0 || margins.Right < 0 {
		return nil, apperrors.New(apperrors.CategoryCrop, "fallback.crop", apperrors.ErrInvalidCrop)
	}

	out := cloneStructure(src)
	out.Config.Width, out.Config.Height = w, h
	for i, frame := range src.Image {
		aligned := alignToCanvas(frame, src.Config.Width, src.Config.Height)
		cropped := image.NewPaletted(image.Rect(0, 0, w, h), aligned.Palette)
		draw.Draw(cropped, cropped.Bounds(), aligned, image.Pt(margins.Left, margins.Top), draw.Src)
		out.Image[i] = cropped
	}
	return derive(a, out), nil
}

// Encode serialises the asset's frames to GIF bytes.
func (b *Backend) Encode(ctx context.Context, a *core.Asset) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "fallback.encode", err)
	}
	// Untouched assets keep their original bytes: re-encoding with the stdlib
	// writer would change size without any parameter change.
	if a.GIF == nil && a.Data != nil {
		return a.Data, nil
	}
	src, err := b.frames(a)
	if err != nil {
		return nil, err
	}
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := gif.EncodeAll(buf, src); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "fallback.encode", err)
	}
	return utils.CloneBytes(buf.Bytes()), nil
}

// frames returns the decoded frame sequence, decoding from bytes when needed.
func (b *Backend) frames(a *core.Asset) (*gif.GIF, error) {
	if a.GIF != nil {
		return a.GIF, nil
	}
	if a.Data == nil {
		return nil, apperrors.New(apperrors.CategoryBackend, "fallback.frames", apperrors.ErrEmptyInput)
	}
	g, err := gif.DecodeAll(bytes.NewReader(a.Data))
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryInput, "fallback.frames", apperrors.ErrInvalidInput)
	}
	return g, nil
}

// derive wraps transformed frames in a fresh Asset, carrying provenance.
func derive(a *core.Asset, g *gif.GIF) *core.Asset {
	out := core.NewAssetFromGIF(g)
	out.OriginalSize = a.OriginalSize
	return out
}

var _ core.Backend = (*Backend)(nil)
var _ core.Decoder = (*Backend)(nil)
