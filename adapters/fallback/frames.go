package fallback

import (
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"math"

	"github.com/disintegration/imaging"
)

// cloneStructure copies animation metadata into a fresh gif.GIF with an empty
// frame slice of the same length.  BackgroundIndex and the global color model
// are dropped: transformed frames carry their own palettes.
func cloneStructure(g *gif.GIF) *gif.GIF {
	out := &gif.GIF{
		Image:     make([]*image.Paletted, len(g.Image)),
		Delay:     make([]int, len(g.Delay)),
		Config:    image.Config{Width: g.Config.Width, Height: g.Config.Height},
		LoopCount: g.LoopCount,
	}
	copy(out.Delay, g.Delay)
	if len(g.Disposal) == len(g.Image) {
		out.Disposal = make([]byte, len(g.Disposal))
		copy(out.Disposal, g.Disposal)
	}
	return out
}

// alignToCanvas draws a frame onto a transparent full-size canvas when the
// frame does not cover the whole logical screen.  Required before resizing or
// cropping so per-frame offsets survive the transform.
func alignToCanvas(frame *image.Paletted, w, h int) *image.Paletted {
	b := frame.Bounds()
	if b.Min.X == 0 && b.Min.Y == 0 && b.Max.X == w && b.Max.Y == h {
		return frame
	}
	background := image.NewPaletted(image.Rect(0, 0, w, h), paletteWithTransparent(frame.Palette))
	draw.Draw(background, background.Bounds(), image.Transparent, image.Point{}, draw.Src)
	draw.Draw(background, b, frame, b.Min, draw.Over)
	return background
}

// resizeFrame realigns a frame to the canvas and resizes it to the target
// dimensions.  Aligned full-canvas frames use Lanczos; realigned frames use
// NearestNeighbor to keep the delta edges sharp.
func resizeFrame(frame *image.Paletted, canvasW, canvasH, dstW, dstH int) *image.Paletted {
	filter := imaging.Lanczos
	b := frame.Bounds()
	if b.Min.X != 0 || b.Min.Y != 0 || b.Max.X != canvasW || b.Max.Y != canvasH {
		frame = alignToCanvas(frame, canvasW, canvasH)
		filter = imaging.NearestNeighbor
	}
	resized := imaging.Resize(frame, dstW, dstH, filter)
	return nrgbaToPaletted(resized, frame.Palette)
}

// nrgbaToPaletted converts a resized NRGBA frame back to a paletted frame
// with Floyd-Steinberg dithering.
func nrgbaToPaletted(nrgba *image.NRGBA, palette color.Palette) *image.Paletted {
	if palette == nil {
		palette = uniformPalette(256)
	}
	paletted := image.NewPaletted(nrgba.Rect, palette)
	draw.FloydSteinberg.Draw(paletted, paletted.Rect, nrgba, image.Point{})
	return paletted
}

// repalette redraws a frame with the given smaller palette.
func repalette(frame *image.Paletted, palette color.Palette) *image.Paletted {
	out := image.NewPaletted(frame.Bounds(), palette)
	draw.FloydSteinberg.Draw(out, out.Rect, frame, frame.Bounds().Min)
	return out
}

// snapshotPaletted converts a composited RGBA canvas into a paletted frame.
func snapshotPaletted(canvas *image.RGBA, palette color.Palette) *image.Paletted {
	if palette == nil {
		palette = uniformPalette(256)
	}
	out := image.NewPaletted(canvas.Bounds(), palette)
	draw.FloydSteinberg.Draw(out, out.Rect, canvas, canvas.Bounds().Min)
	return out
}

// uniformPalette builds an n-entry palette: index 0 transparent, then a
// uniform RGB cube, padded with a gray ramp.  Small n degrades to a gray
// ramp, which is the only sensible spread below a 2x2x2 cube.
func uniformPalette(n int) color.Palette {
	if n < 2 {
		n = 2
	}
	if n > 256 {
		n = 256
	}
	p := make(color.Palette, 0, n)
	p = append(p, color.RGBA{}) // transparent

	levels := int(math.Cbrt(float64(n - 1)))
	if levels >= 2 {
		step := 255 / (levels - 1)
		for r := 0; r < levels && len(p) < n; r++ {
			for g := 0; g < levels && len(p) < n; g++ {
				for b := 0; b < levels && len(p) < n; b++ {
					p = append(p, color.RGBA{
						R: uint8(r * step),
						G: uint8(g * step),
						B: uint8(b * step),
						A: 255,
					})
				}
			}
		}
	}
	for i := 1; len(p) < n; i++ {
		v := uint8((i * 255) / n)
		p = append(p, color.RGBA{R: v, G: v, B: v, A: 255})
	}
	return p
}

// paletteWithTransparent returns p, prepending a transparent entry when the
// palette has none and has room for one.
func paletteWithTransparent(p color.Palette) color.Palette {
	for _, c := range p {
		if _, _, _, a := c.RGBA(); a == 0 {
			return p
		}
	}
	if len(p) >= 256 {
		return p
	}
	out := make(color.Palette, 0, len(p)+1)
	out = append(out, color.RGBA{})
	out = append(out, p...)
	return out
}

// strideIndices picks keep indices uniformly spread across total frames.
// The first frame is always kept.
func strideIndices(total, keep int) []int {
	if keep >= total {
		keep = total
	}
	step := float64(total) / float64(keep)
	out := make([]int, 0, keep)
	last := -1
	for i := 0; i < keep; i++ {
		idx := int(float64(i) * step)
		if idx >= total {
			idx = total - 1
		}
		if idx == last {
			idx++
			if idx >= total {
				break
			}
		}
		out = append(out, idx)
		last = idx
	}
	return out
}

// spanDelay sums the source delays covered by the j-th kept frame so total
// playback duration is approximately preserved.
func spanDelay(delays []int, kept []int, j, total int) int {
	start := kept[j]
	end := total
	if j+1 < len(kept) {
		end = kept[j+1]
	}
	if len(delays) < total {
		if start < len(delays) {
			return delays[start]
		}
		return 0
	}
	sum := 0
	for i := start; i < end; i++ {
		sum += delays[i]
	}
	return sum
}
