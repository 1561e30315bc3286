package fallback

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"testing"

	"github.com/gifpress/gifpress/core"
	apperrors "github.com/gifpress/gifpress/errors"
)

func fullPalette() color.Palette {
	p := make(color.Palette, 0, 256)
	for i := 0; i < 256; i++ {
		p = append(p, color.RGBA{R: uint8(i), G: uint8(255 - i), B: uint8(i / 2), A: 255})
	}
	return p
}

// makeAsset builds a decoded animation with full-canvas frames, a 256-color
// palette, and uniform delays.
func makeAsset(w, h, frames, delay int) *core.Asset {
	pal := fullPalette()
	g := &gif.GIF{Config: image.Config{Width: w, Height: h}}
	for f := 0; f < frames; f++ {
		img := image.NewPaletted(image.Rect(0, 0, w, h), pal)
		for i := range img.Pix {
			img.Pix[i] = uint8((i + f*13) % 256)
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, delay)
	}
	return core.NewAssetFromGIF(g)
}

func encodeAsset(t *testing.T, a *core.Asset) []byte {
	t.Helper()
	data, err := New().Encode(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDecode(t *testing.T) {
	b := New()
	ctx := context.Background()

	data := encodeAsset(t, makeAsset(40, 30, 3, 10))
	a, err := b.Decode(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if a.FrameCount != 3 || a.Width != 40 || a.Height != 30 {
		t.Fatalf("got %dx%d %d frames", a.Width, a.Height, a.FrameCount)
	}
	if a.OriginalSize != int64(len(data)) {
		t.Fatalf("original size %d, want %d", a.OriginalSize, len(data))
	}

	if _, err := b.Decode(ctx, []byte("not a gif at all")); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("corrupt input: want ErrInvalidInput, got %v", err)
	}
	if _, err := b.Decode(ctx, nil); !errors.Is(err, apperrors.ErrEmptyInput) {
		t.Fatalf("empty input: want ErrEmptyInput, got %v", err)
	}
}

func TestQuantizeColorsPreservesStructure(t *testing.T) {
	b := New()
	src := makeAsset(40, 30, 4, 10)

	out, err := b.QuantizeColors(context.Background(), src, 32)
	if err != nil {
		t.Fatal(err)
	}
	if out.FrameCount != src.FrameCount {
		t.Fatalf("frame count changed: %d -> %d", src.FrameCount, out.FrameCount)
	}
	if out.Width != src.Width || out.Height != src.Height {
		t.Fatalf("dimensions changed: %dx%d -> %dx%d", src.Width, src.Height, out.Width, out.Height)
	}
	for i, frame := range out.GIF.Image {
		if len(frame.Palette) > 32 {
			t.Fatalf("frame %d palette has %d colors, want <= 32", i, len(frame.Palette))
		}
	}
}

func TestQuantizeColorsSkipsSmallPalettes(t *testing.T) {
	b := New()
	src := makeAsset(20, 20, 2, 10)

	out, err := b.QuantizeColors(context.Background(), src, 256)
	if err != nil {
		t.Fatal(err)
	}
	// Frames already inside the budget pass through untouched.
	if out.GIF.Image[0] != src.GIF.Image[0] {
		t.Fatal("frame within budget was redrawn")
	}
}

func TestRescale(t *testing.T) {
	b := New()
	ctx := context.Background()
	src := makeAsset(40, 30, 3, 10)

	out, err := b.Rescale(ctx, src, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 20 || out.Height != 15 {
		t.Fatalf("want 20x15, got %dx%d", out.Width, out.Height)
	}
	if out.FrameCount != 3 {
		t.Fatalf("frame count changed to %d", out.FrameCount)
	}

	// Never upsamples.
	same, err := b.Rescale(ctx, src, 1.5)
	if err != nil {
		t.Fatal(err)
	}
	if same != src {
		t.Fatal("factor > 1 must return the input unchanged")
	}

	if _, err := b.Rescale(ctx, src, 0); err == nil {
		t.Fatal("zero factor must be rejected")
	}
}

func TestResampleFramesKeepsDuration(t *testing.T) {
	b := New()
	src := makeAsset(20, 20, 8, 10) // total 80 hundredths

	out, err := b.ResampleFrames(context.Background(), src, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if out.FrameCount != 4 {
		t.Fatalf("want 4 frames, got %d", out.FrameCount)
	}
	total := 0
	for _, d := range out.GIF.Delay {
		total += d
	}
	if total != 80 {
		t.Fatalf("total duration drifted: want 80, got %d", total)
	}
}

func TestResampleFramesNeverDropsToZero(t *testing.T) {
	b := New()
	src := makeAsset(20, 20, 5, 10)

	out, err := b.ResampleFrames(context.Background(), src, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if out.FrameCount < 1 {
		t.Fatalf("resampling must keep at least one frame, got %d", out.FrameCount)
	}
}

func TestAdjustDuration(t *testing.T) {
	b := New()
	ctx := context.Background()
	src := makeAsset(20, 20, 3, 10)

	out, err := b.AdjustDuration(ctx, src, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	for i, d := range out.GIF.Delay {
		if d != 5 {
			t.Fatalf("frame %d delay %d, want 5", i, d)
		}
	}

	// Tiny delays clamp to 1 rather than 0.
	slow := makeAsset(20, 20, 2, 1)
	out, err = b.AdjustDuration(ctx, slow, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	for i, d := range out.GIF.Delay {
		if d != 1 {
			t.Fatalf("frame %d delay %d, want clamp to 1", i, d)
		}
	}
}

func TestCrop(t *testing.T) {
	b := New()
	ctx := context.Background()
	src := makeAsset(100, 80, 2, 10)

	out, err := b.Crop(ctx, src, core.CropMargins{Top: 10, Bottom: 10, Left: 10, Right: 10})
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 80 || out.Height != 60 {
		t.Fatalf("want 80x60, got %dx%d", out.Width, out.Height)
	}

	small := makeAsset(20, 20, 1, 10)
	_, err = b.Crop(ctx, small, core.CropMargins{Top: 10, Bottom: 10, Left: 10, Right: 10})
	if !errors.Is(err, apperrors.ErrInvalidCrop) {
		t.Fatalf("margins consuming the whole frame: want ErrInvalidCrop, got %v", err)
	}
}

func TestApplyLossyIsNoOp(t *testing.T) {
	b := New()
	if b.SupportsLossy() {
		t.Fatal("in-process backend must not claim lossy support")
	}
	src := makeAsset(20, 20, 2, 10)
	out, err := b.ApplyLossy(context.Background(), src, 80)
	if err != nil {
		t.Fatal(err)
	}
	if out != src {
		t.Fatal("lossy must pass the asset through unchanged")
	}
}

func TestEncodeUntouchedAssetKeepsBytes(t *testing.T) {
	b := New()
	raw := encodeAsset(t, makeAsset(30, 30, 2, 10))

	// Asset holding only encoded bytes round-trips identically.
	a := &core.Asset{Data: raw, FrameCount: 2}
	out, err := b.Encode(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, raw) {
		t.Fatal("untouched asset re-encoded to different bytes")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := New()
	ctx := context.Background()
	src := makeAsset(40, 30, 3, 10)

	data, err := b.Encode(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	back, err := b.Decode(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if back.FrameCount != 3 || back.Width != 40 || back.Height != 30 {
		t.Fatalf("round trip changed shape: %dx%d %d frames", back.Width, back.Height, back.FrameCount)
	}
}
