package video

import (
	"bytes"
	"context"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"

	"github.com/gifpress/gifpress/core"
	apperrors "github.com/gifpress/gifpress/errors"
)

// mjpegSOI/EOI delimit one JPEG image inside a motion-JPEG stream.
var (
	mjpegSOI = []byte{0xFF, 0xD8, 0xFF}
	mjpegEOI = []byte{0xFF, 0xD9}
)

const fallbackMaxWidth = 720

// decodeMJPEG is the in-process conversion path: split the stream into JPEG
// segments, decode each frame, and assemble an animation.  It only speaks
// motion-JPEG — anything ffmpeg would have been needed for fails here and
// surfaces as ConversionFailed upstream.
func decodeMJPEG(ctx context.Context, data []byte, fps int) (*core.Asset, error) {
	if fps < 1 {
		fps = 1
	}
	delay := 100 / fps // GIF delay units are 1/100s
	if delay < 2 {
		delay = 2
	}

	g := &gif.GIF{LoopCount: 0}
	rest := data
	for {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryConvert, "mjpeg.decode", err)
		}
		segment, remaining, ok := nextJPEG(rest)
		if !ok {
			break
		}
		rest = remaining

		frame, err := jpeg.Decode(bytes.NewReader(segment))
		if err != nil {
			continue // tolerate torn segments at stream boundaries
		}
		g.Image = append(g.Image, palettedFrame(frame))
		g.Delay = append(g.Delay, delay)
	}

	if len(g.Image) == 0 {
		return nil, apperrors.New(apperrors.CategoryConvert, "mjpeg.decode", apperrors.ErrZeroFrames)
	}
	g.Config.Width = g.Image[0].Bounds().Dx()
	g.Config.Height = g.Image[0].Bounds().Dy()

	asset := core.NewAssetFromGIF(g)
	asset.OriginalSize = int64(len(data))
	return asset, nil
}

// nextJPEG extracts the next SOI..EOI segment from the stream.
func nextJPEG(data []byte) (segment, rest []byte, ok bool) {
	start := bytes.Index(data, mjpegSOI)
	if start < 0 {
		return nil, nil, false
	}
	end := bytes.Index(data[start+len(mjpegSOI):], mjpegEOI)
	if end < 0 {
		return nil, nil, false
	}
	end += start + len(mjpegSOI) + len(mjpegEOI)
	return data[start:end], data[end:], true
}

// palettedFrame downsizes a decoded frame to the width cap and converts it to
// a paletted image for GIF assembly.
func palettedFrame(frame image.Image) *image.Paletted {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > fallbackMaxWidth {
		scaled := image.NewRGBA(image.Rect(0, 0, fallbackMaxWidth, h*fallbackMaxWidth/w))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), frame, b, xdraw.Src, nil)
		frame = scaled
		b = scaled.Bounds()
	}
	out := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette.Plan9)
	draw.FloydSteinberg.Draw(out, out.Rect, frame, b.Min)
	return out
}
